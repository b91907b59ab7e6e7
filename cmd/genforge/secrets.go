package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genforge/pkg/config"
)

//nolint:gochecknoglobals // cobra command tree
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted secrets file (provider API keys)",
}

//nolint:gochecknoglobals // cobra command tree
var secretsSetCmd = &cobra.Command{
	Use:   "set <NAME>",
	Short: "Store a secret; the value is read from the terminal without echo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		out := cmd.OutOrStdout()
		password, err := unlockSecrets(cmd)
		if err != nil {
			return err
		}
		value, err := config.ReadSecret(out, fmt.Sprintf("Value for %s: ", name))
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		if value == "" {
			return fmt.Errorf("empty value for %s", name)
		}
		config.SetSecret(name, value)
		if err := config.SaveSecretsToFile(cfg.Secrets.Path, password); err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		fmt.Fprintf(out, "✅ Saved %s to %s\n", name, cfg.Secrets.Path)
		return nil
	},
}

//nolint:gochecknoglobals // cobra command tree
var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !config.SecretsFileExists(cfg.Secrets.Path) {
			fmt.Fprintln(cmd.OutOrStdout(), "No secrets file")
			return nil
		}
		if _, err := unlockSecrets(cmd); err != nil {
			return err
		}
		for _, name := range config.SecretNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

//nolint:gochecknoglobals // cobra command tree
var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <NAME>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := unlockSecrets(cmd)
		if err != nil {
			return err
		}
		if !config.DeleteSecret(args[0]) {
			return fmt.Errorf("secret %s not found", args[0])
		}
		if err := config.SaveSecretsToFile(cfg.Secrets.Path, password); err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️ Deleted %s\n", args[0])
		return nil
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	secretsCmd.AddCommand(secretsSetCmd, secretsListCmd, secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}

// unlockSecrets obtains the secrets password (GENFORGE_PASSWORD or a prompt)
// and loads the existing file into memory. A new file asks for confirmation.
func unlockSecrets(cmd *cobra.Command) (string, error) {
	exists := config.SecretsFileExists(cfg.Secrets.Path)
	password, err := config.PromptForPassword(cmd.ErrOrStderr(), !exists)
	if err != nil {
		return "", err //nolint:wrapcheck // already descriptive
	}
	if !exists {
		return password, nil
	}
	secrets, err := config.DecryptSecretsFile(cfg.Secrets.Path, password)
	if err != nil {
		return "", err //nolint:wrapcheck // already descriptive
	}
	config.SetDecryptedSecrets(secrets)
	return password, nil
}
