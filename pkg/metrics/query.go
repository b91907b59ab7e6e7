package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunMetrics is the aggregated token usage of one run.
type RunMetrics struct {
	RunID            string         `json:"run_id"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	TotalTokens      int64          `json:"total_tokens"`
	Requests         int64          `json:"requests"`
	ByStage          map[string]int `json:"requests_by_stage"`
}

// QueryService reads recorded metrics back from a Prometheus server that scrapes /metrics.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query client for prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetRunMetrics aggregates token and request counters for runID.
func (q *QueryService) GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error) {
	m := &RunMetrics{RunID: runID, ByStage: map[string]int{}}

	var err error
	if m.PromptTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(%s_llm_tokens_total{run_id=%q, type="prompt"})`, Namespace, runID)); err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if m.CompletionTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(%s_llm_tokens_total{run_id=%q, type="completion"})`, Namespace, runID)); err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	stageQuery := fmt.Sprintf(`sum by (stage) (%s_llm_requests_total{run_id=%q})`, Namespace, runID)
	result, _, err := q.queryAPI.Query(ctx, stageQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			n := int(sample.Value)
			m.ByStage[string(sample.Metric["stage"])] = n
			m.Requests += int64(n)
		}
	}
	return m, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by caller
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
