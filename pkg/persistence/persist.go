package persistence

import (
	"context"

	"genforge/pkg/logx"
	"genforge/pkg/plan"
	"genforge/pkg/proto"
	"genforge/pkg/sandbox"
)

// Checkpointer adapts DatabaseOperations to the orchestrator's checkpoint hook.
type Checkpointer struct {
	ops *DatabaseOperations
}

// NewCheckpointer returns a checkpointer writing through ops.
func NewCheckpointer(ops *DatabaseOperations) *Checkpointer {
	return &Checkpointer{ops: ops}
}

// Checkpoint persists state.
func (c *Checkpointer) Checkpoint(ctx context.Context, state *plan.RunState) error {
	return c.ops.SaveCheckpoint(ctx, state)
}

// JournalEmitter forwards every message to next and journals file messages
// for runID. Journal failures are logged and never block the stream.
func JournalEmitter(ops *DatabaseOperations, runID string, next proto.Emitter) proto.Emitter {
	logger := logx.NewLogger("persistence").WithRunID(runID)
	return proto.EmitterFunc(func(msg proto.Message) {
		if msg.Data != nil {
			if kind, ok := fileOpKind(msg.Type); ok {
				op := sandbox.FileOp{Kind: kind, Path: msg.Data.Path}
				if err := ops.AppendFileEvent(context.Background(), runID, op); err != nil {
					logger.Warn("%v", err)
				}
			}
		}
		next.Emit(msg)
	})
}

func fileOpKind(t proto.MsgType) (sandbox.OpKind, bool) {
	switch t {
	case proto.MsgTypeFileCreate:
		return sandbox.OpCreate, true
	case proto.MsgTypeFileUpdate:
		return sandbox.OpUpdate, true
	case proto.MsgTypeFileDelete:
		return sandbox.OpDelete, true
	default:
		return "", false
	}
}
