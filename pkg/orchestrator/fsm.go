package orchestrator

import (
	"errors"

	"genforge/pkg/plan"
)

// ErrInvalidTransition is returned when a stage hands off to a stage the table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionTable lists the stages each stage may move to.
type TransitionTable map[plan.Stage][]plan.Stage

// Transitions is the canonical pipeline:
//
//	PLANNER -> ARCHITECT -> CODER -> (CODER | DONE)
//
//nolint:gochecknoglobals // single source of truth for the pipeline
var Transitions = TransitionTable{
	plan.StagePlanner:   {plan.StageArchitect},
	plan.StageArchitect: {plan.StageCoder},
	plan.StageCoder:     {plan.StageCoder, plan.StageDone},
	plan.StageDone:      {},
}

// IsValidTransition checks from -> to against the table.
func (t TransitionTable) IsValidTransition(from, to plan.Stage) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether stage has no outgoing transitions.
func (t TransitionTable) IsTerminal(stage plan.Stage) bool {
	next, ok := t[stage]
	return ok && len(next) == 0
}
