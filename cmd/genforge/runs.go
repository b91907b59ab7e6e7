package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"genforge/pkg/persistence"
)

//nolint:gochecknoglobals // cobra command tree
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

//nolint:gochecknoglobals // cobra command tree
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its file events and plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() { //nolint:gochecknoinits // cobra wiring
	runsCmd.Flags().Int("limit", persistence.DefaultListLimit, "maximum number of runs to list")
	runsShowCmd.Flags().Bool("plan", false, "print the persisted plan and task plan as YAML")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs yet")
		return nil
	}

	t := table.New().Headers("ID", "STATUS", "STARTED", "DURATION", "PROMPT")
	for _, r := range runs {
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		t.Row(r.ID, status, r.CreatedAt.Local().Format("2006-01-02 15:04"), runDuration(r), truncate(r.Prompt, 48))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	showPlan, _ := cmd.Flags().GetBool("plan")
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Run "+r.ID))
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	fmt.Fprintf(out, "Model:    %s\n", r.Model)
	fmt.Fprintf(out, "Started:  %s\n", r.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Duration: %s\n", runDuration(r))
	fmt.Fprintf(out, "Prompt:   %s\n", r.Prompt)
	if r.Error != "" {
		fmt.Fprintln(out, errorStyle.Render("Error:    "+r.Error))
	}

	events, err := store.FileEvents(ctx, r.ID)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	if len(events) > 0 {
		t := table.New().Headers("#", "KIND", "PATH")
		for _, e := range events {
			t.Row(strconv.Itoa(e.Seq), e.Kind, e.Path)
		}
		fmt.Fprintln(out, t.Render())
	}

	if !showPlan {
		return nil
	}
	state, err := store.LoadRunState(ctx, r.ID)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	data, err := yaml.Marshal(map[string]any{
		"stage":     state.Stage().String(),
		"plan":      state.Plan,
		"task_plan": state.TaskPlan,
	})
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runDuration(r *persistence.Run) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return r.FinishedAt.Sub(r.CreatedAt).Round(time.Second).String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
