package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"genforge/pkg/metrics"
	"genforge/pkg/proto"
	"genforge/pkg/runner"
)

//nolint:gochecknoglobals // cobra command tree
var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Generate a project from a prompt",
	Long: `Run the planner, architect and coder pipeline once and render every
file mutation as it happens. Press Ctrl+C once to stop after the current
step (the partial project is kept); press it again to abort.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		return generate(cmd, func(ctx context.Context, svc *runner.Service, emitter proto.Emitter) (runner.Result, error) {
			return svc.Run(ctx, prompt, emitter)
		})
	},
}

//nolint:gochecknoglobals // cobra command tree
var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a checkpointed run from its saved stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return generate(cmd, func(ctx context.Context, svc *runner.Service, emitter proto.Emitter) (runner.Result, error) {
			return svc.Resume(ctx, args[0], emitter)
		})
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().String("policy", "", "continuation policy for failed steps (best_effort|fail_fast)")
		cmd.Flags().String("event-mode", "", "file event relay mode (queue|snapshot)")
		bindConfigKey(cmd, "policy", "orchestrator.continuation_policy")
		bindConfigKey(cmd, "event-mode", "relay.event_mode")
		rootCmd.AddCommand(cmd)
	}
}

type generateFunc func(ctx context.Context, svc *runner.Service, emitter proto.Emitter) (runner.Result, error)

func generate(cmd *cobra.Command, start generateFunc) error {
	svc, cleanup, err := newService(metrics.Nop())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()
	go stopOnInterrupt(ctx, svc, cancel, func(msg string) {
		fmt.Fprintln(out, logStyle.Render(msg))
	})

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("genforge → %s (%s)", cfg.Sandbox.Root, cfg.Model.Name)))
	res, err := start(ctx, svc, newTerminalEmitter(out))
	if err != nil {
		return err
	}
	if res.Status == proto.StatusError {
		return fmt.Errorf("run %s failed: %w", res.RunID, res.Err)
	}
	fmt.Fprintln(out, logStyle.Render(fmt.Sprintf("run %s: %d transitions, %d/%d steps ok",
		res.RunID, res.Summary.Transitions, res.Summary.StepsTotal-res.Summary.StepsFailed, res.Summary.StepsTotal)))
	return nil
}

// stopOnInterrupt requests a cooperative stop on the first signal and cancels
// the run on the second.
func stopOnInterrupt(ctx context.Context, svc *runner.Service, cancel context.CancelFunc, notify func(string)) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopped := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if stopped {
				notify("Aborting run")
				cancel()
				return
			}
			stopped = true
			svc.Stop()
			notify("Stopping after the current step (Ctrl+C again to abort)")
		}
	}
}
