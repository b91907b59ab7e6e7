package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genforge/pkg/metrics"
	"genforge/pkg/version"
	"genforge/pkg/webui"
)

//nolint:gochecknoglobals // cobra command tree
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the observer websocket and HTTP endpoints",
	Long: `Start the observer server. Clients connect to /ws, send
{"type":"generate","prompt":"..."} to start a run and {"type":"stop"} to halt
it, and receive every log, file and status message of the run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() { //nolint:gochecknoinits // cobra wiring
	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	serveCmd.Flags().String("event-mode", "", "file event relay mode (queue|snapshot)")
	bindConfigKey(serveCmd, "addr", "server.addr")
	bindConfigKey(serveCmd, "event-mode", "relay.event_mode")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	version.Publish()
	recorder := metrics.NewPrometheusRecorder()

	svc, cleanup, err := newService(recorder)
	if err != nil {
		return err
	}
	defer cleanup()

	server := webui.NewServer(svc, cfg.Server,
		webui.WithMetricsHandler(recorder.Handler()),
		webui.WithSecretsPath(cfg.Secrets.Path),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render(fmt.Sprintf("🚀 genforge %s observing %s on %s", version.Version, cfg.Sandbox.Root, cfg.Server.Addr)))
	return server.StartServer(ctx, cfg.Server.Addr)
}
