package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genforge/pkg/metrics"
)

//nolint:gochecknoglobals // cobra command tree
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize run history and, with --prometheus, a run's token usage",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() { //nolint:gochecknoinits // cobra wiring
	statsCmd.Flags().String("prometheus", "", "Prometheus server scraping genforge's /metrics")
	statsCmd.Flags().String("run", "", "run ID to query token usage for (requires --prometheus)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	promURL, _ := cmd.Flags().GetString("prometheus")
	runID, _ := cmd.Flags().GetString("run")
	if runID != "" && promURL == "" {
		return fmt.Errorf("--run requires --prometheus")
	}

	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	s, err := store.Stats(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Run history"))
	fmt.Fprintf(out, "Runs:        %d\n", s.Total)
	fmt.Fprintf(out, "Completed:   %d\n", s.Completed)
	fmt.Fprintf(out, "Failed:      %d\n", s.Failed)
	fmt.Fprintf(out, "Running:     %d\n", s.Running)
	fmt.Fprintf(out, "File events: %d\n", s.FileEvents)

	if runID == "" {
		return nil
	}
	q, err := metrics.NewQueryService(promURL)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	m, err := q.GetRunMetrics(ctx, runID)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	fmt.Fprintln(out, headerStyle.Render("\nRun "+runID))
	fmt.Fprintf(out, "LLM requests:      %d\n", m.Requests)
	for stage, n := range m.ByStage {
		fmt.Fprintf(out, "  %-16s %d\n", stage+":", n)
	}
	fmt.Fprintf(out, "Prompt tokens:     %d\n", m.PromptTokens)
	fmt.Fprintf(out, "Completion tokens: %d\n", m.CompletionTokens)
	fmt.Fprintf(out, "Total tokens:      %d\n", m.TotalTokens)
	return nil
}
