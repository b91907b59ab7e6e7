package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Run status values stored in the runs table.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
)

// Run is one generation run.
type Run struct {
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Model      string     `json:"model,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
}

// Checkpoint is the latest persisted RunState of a run.
type Checkpoint struct {
	UpdatedAt time.Time `json:"updated_at"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	StateJSON string    `json:"state_json"`
}

// FileEvent is one journaled file mutation. Seq is 1-based per run.
type FileEvent struct {
	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Seq       int       `json:"seq"`
}

// GenerateRunID returns a new run identifier.
func GenerateRunID() string {
	return uuid.NewString()
}
