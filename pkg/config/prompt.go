package config

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadSecret prints prompt to out and reads a line from the terminal without echo.
func ReadSecret(out io.Writer, prompt string) (string, error) {
	if !IsTerminal() {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(out, prompt)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	defer zero(value)
	return string(value), nil
}

// PromptForPassword asks for the secrets password. With confirm set it is
// read twice and must match, with up to three attempts.
func PromptForPassword(out io.Writer, confirm bool) (string, error) {
	if env := os.Getenv(EnvPassword); env != "" {
		return env, nil
	}
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := ReadSecret(out, "Secrets password: ")
		if err != nil {
			return "", err
		}
		if !confirm {
			return first, nil
		}
		second, err := ReadSecret(out, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if first == second {
			return first, nil
		}
		if attempt < maxAttempts {
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}
