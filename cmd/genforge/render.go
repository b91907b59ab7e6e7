package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"genforge/pkg/proto"
)

//nolint:gochecknoglobals // shared terminal styles
var (
	logStyle     = lipgloss.NewStyle().Faint(true)
	createStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	updateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	deleteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// terminalEmitter renders run messages as lines on out. The relay and the
// worker both emit, so writes are serialized.
type terminalEmitter struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalEmitter(out io.Writer) *terminalEmitter {
	return &terminalEmitter{out: out}
}

func (e *terminalEmitter) Emit(msg proto.Message) {
	line := renderMessage(msg)
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.out, line)
}

func renderMessage(msg proto.Message) string {
	switch msg.Type {
	case proto.MsgTypeFileCreate:
		return createStyle.Render("+ " + msg.Data.Path)
	case proto.MsgTypeFileUpdate:
		return updateStyle.Render("~ " + msg.Data.Path)
	case proto.MsgTypeFileDelete:
		return deleteStyle.Render("- " + msg.Data.Path)
	case proto.MsgTypeError:
		return errorStyle.Render(msg.Message)
	case proto.MsgTypeStatus:
		if msg.Status == proto.StatusCompleted {
			return successStyle.Render(msg.Message)
		}
		return errorStyle.Render("✗ " + msg.Message)
	default:
		return logStyle.Render(msg.Message)
	}
}
