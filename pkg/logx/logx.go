// Package logx provides component-tagged logging with domain-filtered debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type ctxKey string

// RunIDKey is the context key under which the active run ID is stored.
const RunIDKey ctxKey = "run_id"

// Logger writes lines of the form "[ts] [component] LEVEL: msg".
type Logger struct {
	component string
	runID     string
}

// Entry is a captured log line, kept for the web UI and tests.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	RunID     string `json:"run_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// RingBuffer stores the most recent log entries.
type RingBuffer struct {
	entries []Entry
	mu      sync.RWMutex
	maxSize int
}

var (
	outMu  sync.Mutex
	output io.Writer = os.Stderr

	debugMu      sync.RWMutex
	debugEnabled bool
	debugDomains map[string]bool // nil = all domains

	buffer = &RingBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env-driven debug switches
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugEnabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// NewLogger returns a logger tagged with component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput redirects all loggers. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// SetDebug toggles debug output and restricts it to the given domains (empty = all).
func SetDebug(enabled bool, domains ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
	if len(domains) == 0 {
		debugDomains = nil
		return
	}
	debugDomains = make(map[string]bool, len(domains))
	for _, d := range domains {
		debugDomains[strings.TrimSpace(d)] = true
	}
}

// IsDebugEnabledForDomain reports whether debug lines for domain are emitted.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[domain]
}

func (l *Logger) tag() string {
	if l.runID == "" {
		return l.component
	}
	return l.component + ":" + shortID(l.runID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (l *Logger) emit(level Level, domain, message string) {
	ts := time.Now().UTC().Format(timestampFormat)
	prefix := message
	if domain != "" {
		prefix = "[" + domain + "] " + message
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", ts, l.tag(), level, prefix)

	outMu.Lock()
	_, _ = io.WriteString(output, line)
	outMu.Unlock()

	buffer.Add(Entry{
		Timestamp: ts,
		Component: l.component,
		RunID:     l.runID,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	debugMu.RLock()
	enabled := debugEnabled
	debugMu.RUnlock()
	if !enabled {
		return
	}
	l.emit(LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.emit(LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.emit(LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.emit(LevelError, "", fmt.Sprintf(format, args...))
}

// DebugState logs a state machine transition.
func (l *Logger) DebugState(from, to string) {
	l.Debug("State %s -> %s", from, to)
}

// Component returns the logger's component tag.
func (l *Logger) Component() string {
	return l.component
}

// WithRunID returns a copy of l that tags every line with runID.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{component: l.component, runID: runID}
}

// WithRunID stores runID in ctx for domain debug logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// Debug logs a domain-scoped debug message. The run ID is taken from ctx when present.
//
//	DEBUG=1                               # all domains
//	DEBUG=1 DEBUG_DOMAINS=coder,relay     # selected domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	runID := ""
	if ctx != nil {
		if v, ok := ctx.Value(RunIDKey).(string); ok {
			runID = v
		}
	}
	l := &Logger{component: domain, runID: runID}
	l.emit(LevelDebug, domain, fmt.Sprintf(format, args...))
}

// Add appends an entry, evicting the oldest when full.
func (b *RingBuffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Entries returns a copy of buffered entries, filtered by run ID when non-empty.
func (b *RingBuffer) Entries(runID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.entries))
	for i := range b.entries {
		if runID != "" && b.entries[i].RunID != runID {
			continue
		}
		out = append(out, b.entries[i])
	}
	return out
}

// RecentEntries returns buffered entries for runID (all runs when empty).
func RecentEntries(runID string) []Entry {
	return buffer.Entries(runID)
}
