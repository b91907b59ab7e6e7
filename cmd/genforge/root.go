package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"genforge/pkg/config"
	"genforge/pkg/llm/provider"
	"genforge/pkg/logx"
	"genforge/pkg/metrics"
	"genforge/pkg/persistence"
	"genforge/pkg/runner"
)

// Command and flag annotations.
const (
	// skipConfig marks commands that run without loading genforge.yaml.
	skipConfig = "skip-config"
	// viperOnly marks commands that need the viper instance but not a validated Config.
	viperOnly = "viper-only"

	configKeyAnnotation = "config-key"
)

//nolint:gochecknoglobals // cobra command tree
var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

//nolint:gochecknoglobals // cobra command tree
var rootCmd = &cobra.Command{
	Use:   "genforge",
	Short: "Generate a project from a prompt with a plan, architect and coder pipeline",
	Long: `genforge chains language-model calls through a planner, an architect and
an iterative coder to write a project into a sandboxed directory, streaming
every file mutation to observers as it happens.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute() //nolint:wrapcheck // cobra errors are already user-facing
}

func init() { //nolint:gochecknoinits // cobra wiring
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./genforge.yaml)")
	flags.String("root", "", "directory generated files are written to")
	flags.String("model", "", "model name (provider inferred from the name)")
	flags.String("db", "", "run history database path")
	flags.Bool("debug", false, "enable debug logging")
}

// flagKeys maps persistent flags to config keys.
//
//nolint:gochecknoglobals // static table
var flagKeys = map[string]string{
	"root":  "sandbox.root",
	"model": "model.name",
	"db":    "persistence.db_path",
	"debug": "logging.debug",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	var err error
	v, err = config.NewViper(cfgFile)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	for name, key := range commandFlagKeys(cmd) {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	if cmd.Annotations[viperOnly] == "true" {
		return nil
	}
	cfg, err = config.Load(v)
	if err != nil {
		return err //nolint:wrapcheck // validation errors list every bad key
	}
	logx.SetDebug(cfg.Logging.Debug, cfg.Logging.Domains...)

	if err := config.LoadSecrets(cfg.Secrets.Path); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}
	return nil
}

// commandFlagKeys returns the command-local flags that override config keys,
// declared with bindConfigKey.
func commandFlagKeys(cmd *cobra.Command) map[string]string {
	keys := map[string]string{}
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if key, ok := f.Annotations[configKeyAnnotation]; ok && len(key) == 1 {
			keys[f.Name] = key[0]
		}
	})
	return keys
}

// newService builds the runner with the configured model client and, when a
// database path is set, persistent run history. The returned func releases
// the database.
func newService(recorder metrics.Recorder) (*runner.Service, func(), error) {
	client, err := provider.NewFactory(cfg.Model, recorder).CreateClient()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	opts := []runner.Option{runner.WithRecorder(recorder)}
	cleanup := func() {}
	if cfg.Persistence.DBPath != "" {
		store, closeStore, err := openStore()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, runner.WithStore(store))
		cleanup = closeStore
	}
	return runner.NewService(cfg, client, opts...), cleanup, nil
}

func openStore() (*persistence.DatabaseOperations, func(), error) {
	if err := persistence.Initialize(cfg.Persistence.DBPath); err != nil {
		return nil, nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if !persistence.IsInitialized() {
		return nil, nil, fmt.Errorf("run history at %s is closed", cfg.Persistence.DBPath)
	}
	return persistence.Ops(), func() {
		if err := persistence.Close(); err != nil {
			logx.NewLogger("genforge").Warn("closing database: %v", err)
		}
	}, nil
}

// bindConfigKey annotates a command-local flag with the config key it overrides.
func bindConfigKey(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}
