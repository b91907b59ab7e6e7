// Package metrics records pipeline and LLM metrics and reads them back from Prometheus.
package metrics

import (
	"context"
	"time"
)

// Recorder receives every metric the pipeline emits.
type Recorder interface {
	// ObserveRequest records one completed LLM request.
	ObserveRequest(model, runID, stage string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration)

	// IncRun counts a finished run by terminal status.
	IncRun(status string)

	// IncCoderStep counts a coder step by outcome (ok, failed, rate_limited).
	IncCoderStep(outcome string)

	// IncFileEvent counts a relayed file mutation by kind.
	IncFileEvent(kind string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

func (n *NoopRecorder) IncRun(string) {}

func (n *NoopRecorder) IncCoderStep(string) {}

func (n *NoopRecorder) IncFileEvent(string) {}

type labelsKey struct{}

type runLabels struct {
	runID string
	stage string
}

// WithRun attaches run and stage labels to ctx for LLM metrics.
func WithRun(ctx context.Context, runID, stage string) context.Context {
	return context.WithValue(ctx, labelsKey{}, runLabels{runID: runID, stage: stage})
}

// RunLabels returns the labels set by WithRun, or empty strings.
func RunLabels(ctx context.Context) (runID, stage string) {
	if l, ok := ctx.Value(labelsKey{}).(runLabels); ok {
		return l.runID, l.stage
	}
	return "", ""
}
