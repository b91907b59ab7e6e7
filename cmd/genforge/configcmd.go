package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"genforge/pkg/config"
)

//nolint:gochecknoglobals // cobra command tree
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage genforge.yaml",
}

//nolint:gochecknoglobals // cobra command tree
var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a config file with every key at its default",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{viperOnly: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(v, path, force); err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
		return nil
	},
}

//nolint:gochecknoglobals // cobra command tree
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
