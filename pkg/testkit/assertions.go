package testkit

import (
	"sync"
	"testing"

	"genforge/pkg/proto"
)

// Recorder is a concurrency-safe proto.Emitter that keeps every message.
type Recorder struct {
	mu   sync.Mutex
	msgs []proto.Message
}

// Emit records msg.
func (r *Recorder) Emit(msg proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Message(nil), r.msgs...)
}

// OfType returns the recorded messages of type t.
func (r *Recorder) OfType(t proto.MsgType) []proto.Message {
	var out []proto.Message
	for _, m := range r.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// FilePaths returns the paths of the recorded file messages, in order.
func (r *Recorder) FilePaths() []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Data != nil {
			out = append(out, m.Data.Path)
		}
	}
	return out
}

// AssertSingleTerminal checks that exactly one status message was emitted,
// that it was last, and that it carries want.
func AssertSingleTerminal(t *testing.T, msgs []proto.Message, want proto.RunStatus) proto.Message {
	t.Helper()
	var terminals int
	for i := range msgs {
		if msgs[i].IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one status message, got %d", terminals)
	}
	last := msgs[len(msgs)-1]
	if !last.IsTerminal() {
		t.Fatalf("expected status message last, got %s", last.String())
	}
	if last.Status != want {
		t.Errorf("expected status %s, got %s (%s)", want, last.Status, last.Message)
	}
	return last
}

// AssertMessageType verifies the message type.
func AssertMessageType(t *testing.T, msg *proto.Message, want proto.MsgType) {
	t.Helper()
	if msg.Type != want {
		t.Errorf("expected message type %s, got %s", want, msg.Type)
	}
}
