// Package plan defines the data flowing through a generation run: the
// planner's Plan, the architect's TaskPlan, the coder's resumable cursor and
// the RunState that carries them between stages.
//
// RunState is a tagged structure. Which optional fields are set determines the
// stage the run is in (see RunState.Stage), and ValidateFor checks that the
// fields a stage needs are present before the stage runs.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Stage names a node of the pipeline.
type Stage string

// Pipeline stages.
const (
	StagePlanner   Stage = "PLANNER"
	StageArchitect Stage = "ARCHITECT"
	StageCoder     Stage = "CODER"
	StageDone      Stage = "DONE"
)

func (s Stage) String() string { return string(s) }

// Status is the run's completion flag.
type Status string

// StatusDone is set exactly once, when the coder loop finishes.
const StatusDone Status = "DONE"

var (
	// ErrInvalidState is returned when a RunState is missing what a stage requires.
	ErrInvalidState = errors.New("invalid run state")
	// ErrAlreadyDone is returned when a finished run is marked done again.
	ErrAlreadyDone = errors.New("run already done")
	// ErrCursorExhausted is returned when advancing past the last step.
	ErrCursorExhausted = errors.New("no steps remaining")
)

// File is one file the planner expects the project to contain.
type File struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// Plan is the planner's structured result.
type Plan struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TechStack   string   `json:"techstack"`
	Features    []string `json:"features"`
	Files       []File   `json:"files"`
}

// IsEmpty reports whether the plan carries no usable content.
func (p *Plan) IsEmpty() bool {
	return p == nil ||
		(strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Description) == "" &&
			len(p.Features) == 0 && len(p.Files) == 0)
}

// ImplementationStep is the atomic unit of coder work.
type ImplementationStep struct {
	FilePath        string `json:"filepath"`
	TaskDescription string `json:"task_description"`
}

// TaskPlan is the architect's ordered step list. Later steps may depend on
// files created by earlier ones.
type TaskPlan struct {
	ImplementationSteps []ImplementationStep `json:"implementation_steps"`
	// Plan is the originating plan, set by the architect after decoding.
	Plan *Plan `json:"plan,omitempty"`
}

// Validate rejects steps without a target file. An empty step list is valid.
func (t *TaskPlan) Validate() error {
	for i := range t.ImplementationSteps {
		if strings.TrimSpace(t.ImplementationSteps[i].FilePath) == "" {
			return fmt.Errorf("step %d has no filepath", i+1)
		}
	}
	return nil
}

// CoderState is the coder loop's resumable cursor.
type CoderState struct {
	TaskPlan       *TaskPlan `json:"task_plan"`
	CurrentStepIdx int       `json:"current_step_idx"`
}

// NewCoderState returns a cursor at the first step of tp.
func NewCoderState(tp *TaskPlan) *CoderState {
	return &CoderState{TaskPlan: tp}
}

// Total returns the number of steps.
func (c *CoderState) Total() int {
	if c.TaskPlan == nil {
		return 0
	}
	return len(c.TaskPlan.ImplementationSteps)
}

// Done reports whether every step has been attempted.
func (c *CoderState) Done() bool {
	return c.CurrentStepIdx >= c.Total()
}

// Current returns the step at the cursor.
func (c *CoderState) Current() (ImplementationStep, bool) {
	if c.Done() {
		return ImplementationStep{}, false
	}
	return c.TaskPlan.ImplementationSteps[c.CurrentStepIdx], true
}

// Advance moves the cursor forward by one step.
func (c *CoderState) Advance() error {
	if c.Done() {
		return ErrCursorExhausted
	}
	c.CurrentStepIdx++
	return nil
}

// RunState is the state threaded through the pipeline. Each stage writes its
// own field once; CoderState and Status change on every coder activation.
type RunState struct {
	RunID      string      `json:"run_id"`
	UserPrompt string      `json:"user_prompt"`
	Plan       *Plan       `json:"plan,omitempty"`
	TaskPlan   *TaskPlan   `json:"task_plan,omitempty"`
	CoderState *CoderState `json:"coder_state,omitempty"`
	Status     Status      `json:"status,omitempty"`
}

// NewRunState returns the initial state for prompt.
func NewRunState(runID, prompt string) *RunState {
	return &RunState{RunID: runID, UserPrompt: prompt}
}

// Stage derives the pipeline position from which fields are set.
func (s *RunState) Stage() Stage {
	switch {
	case s.Status == StatusDone:
		return StageDone
	case s.Plan == nil:
		return StagePlanner
	case s.TaskPlan == nil:
		return StageArchitect
	default:
		return StageCoder
	}
}

// ValidateFor checks that s holds what stage needs.
func (s *RunState) ValidateFor(stage Stage) error {
	switch stage {
	case StagePlanner:
		if strings.TrimSpace(s.UserPrompt) == "" {
			return fmt.Errorf("%w: planner requires a user prompt", ErrInvalidState)
		}
	case StageArchitect:
		if s.Plan.IsEmpty() {
			return fmt.Errorf("%w: architect requires a plan", ErrInvalidState)
		}
	case StageCoder:
		if s.TaskPlan == nil {
			return fmt.Errorf("%w: coder requires a task plan", ErrInvalidState)
		}
		if s.TaskPlan.Plan == nil {
			return fmt.Errorf("%w: task plan has no originating plan", ErrInvalidState)
		}
		if cs := s.CoderState; cs != nil {
			if cs.TaskPlan != s.TaskPlan {
				return fmt.Errorf("%w: coder state refers to a different task plan", ErrInvalidState)
			}
			if cs.CurrentStepIdx < 0 || cs.CurrentStepIdx > cs.Total() {
				return fmt.Errorf("%w: step index %d outside [0, %d]", ErrInvalidState, cs.CurrentStepIdx, cs.Total())
			}
		}
	case StageDone:
		if s.Status != StatusDone {
			return fmt.Errorf("%w: status is not %s", ErrInvalidState, StatusDone)
		}
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidState, stage)
	}
	return nil
}

// MarkDone sets the terminal status. It fails if the run is already done.
func (s *RunState) MarkDone() error {
	if s.Status == StatusDone {
		return ErrAlreadyDone
	}
	s.Status = StatusDone
	return nil
}

// Encode serializes s for checkpointing.
func (s *RunState) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run state: %w", err)
	}
	return data, nil
}

// Decode restores a checkpoint and relinks the shared pointers JSON duplicates:
// the coder cursor and the task plan's back-reference both point at the run's
// own TaskPlan and Plan again.
func Decode(data []byte) (*RunState, error) {
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}
	if s.TaskPlan != nil {
		if s.Plan != nil {
			s.TaskPlan.Plan = s.Plan
		}
		if s.CoderState != nil {
			s.CoderState.TaskPlan = s.TaskPlan
		}
	}
	return &s, nil
}
