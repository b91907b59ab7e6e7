// Package proto defines the messages exchanged with run observers.
//
// Outbound messages share one envelope discriminated by Type. Every run ends
// with exactly one status message; file messages carry the path relative to
// the sandbox root.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"

	"genforge/pkg/sandbox"
)

// MsgType discriminates outbound messages.
type MsgType string

const (
	MsgTypeLog        MsgType = "log"
	MsgTypeFileCreate MsgType = "file_create"
	MsgTypeFileUpdate MsgType = "file_update"
	MsgTypeFileDelete MsgType = "file_delete"
	MsgTypeStatus     MsgType = "status"
	MsgTypeError      MsgType = "error"
)

// RunStatus is the terminal outcome reported in a status message.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// ErrorKindRateLimited marks a status=error caused by provider throttling.
const ErrorKindRateLimited = "rate_limited"

// FileData is the payload of file messages.
type FileData struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// Message is the outbound envelope.
type Message struct {
	Type      MsgType   `json:"type"`
	Message   string    `json:"message"`
	Data      *FileData `json:"data,omitempty"`
	Status    RunStatus `json:"status,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// IsTerminal reports whether m ends a run's stream.
func (m *Message) IsTerminal() bool {
	return m.Type == MsgTypeStatus
}

// String renders m for logs.
func (m *Message) String() string {
	if m.Data != nil {
		return fmt.Sprintf("%s %s", m.Type, m.Data.Path)
	}
	if m.Status != "" {
		return fmt.Sprintf("%s=%s %s", m.Type, m.Status, m.Message)
	}
	return fmt.Sprintf("%s %s", m.Type, m.Message)
}

// NewLog creates a log message.
func NewLog(format string, args ...any) Message {
	return Message{Type: MsgTypeLog, Message: fmt.Sprintf(format, args...)}
}

// NewError creates an error message.
func NewError(message string) Message {
	return Message{Type: MsgTypeError, Message: message}
}

// NewCompleted creates the successful terminal status.
func NewCompleted(message string) Message {
	return Message{Type: MsgTypeStatus, Status: StatusCompleted, Message: message}
}

// NewFailed creates the failed terminal status.
func NewFailed(message string) Message {
	return Message{Type: MsgTypeStatus, Status: StatusError, Message: message}
}

// NewRateLimited creates the terminal status for a throttled run.
func NewRateLimited(message string) Message {
	return Message{Type: MsgTypeStatus, Status: StatusError, ErrorKind: ErrorKindRateLimited, Message: message}
}

// NewFileEvent maps a sandbox mutation to its outbound message.
func NewFileEvent(op sandbox.FileOp) Message {
	var (
		t      MsgType
		action string
	)
	switch op.Kind {
	case sandbox.OpCreate:
		t, action = MsgTypeFileCreate, "Created"
	case sandbox.OpDelete:
		t, action = MsgTypeFileDelete, "Deleted"
	default:
		t, action = MsgTypeFileUpdate, "Updated"
	}
	return Message{
		Type:    t,
		Message: fmt.Sprintf("%s: %s", action, op.Path),
		Data:    &FileData{Path: op.Path, Type: "file"},
	}
}

// Emitter receives outbound messages.
type Emitter interface {
	Emit(msg Message)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(msg Message)

// Emit calls f(msg).
func (f EmitterFunc) Emit(msg Message) { f(msg) }

// Discard drops every message.
var Discard Emitter = EmitterFunc(func(Message) {}) //nolint:gochecknoglobals // stateless sink

// ClientMsgType discriminates inbound websocket messages.
type ClientMsgType string

const (
	ClientGenerate ClientMsgType = "generate"
	ClientStop     ClientMsgType = "stop"
)

// ClientMessage is an inbound request from an observer.
type ClientMessage struct {
	Type   ClientMsgType `json:"type"`
	Prompt string        `json:"prompt,omitempty"`
}

// ParseClientMessage decodes and validates an inbound message.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	switch msg.Type {
	case ClientGenerate:
		msg.Prompt = strings.TrimSpace(msg.Prompt)
		if msg.Prompt == "" {
			return msg, fmt.Errorf("no prompt provided")
		}
	case ClientStop:
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
