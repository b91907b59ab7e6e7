package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genforge/pkg/version"
)

//nolint:gochecknoglobals // cobra command tree
var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version information",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Print("genforge"))
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	rootCmd.AddCommand(versionCmd)
}
