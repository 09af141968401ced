package app

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/modregistry/regsync/internal/logger"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored hosting platform credentials",
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store a hosting platform token in the OS keyring",
	Long: `Store a hosting platform token in the OS keyring.

The token is read from STDIN, or prompted for when attached to a
terminal. Sync runs use the stored token when neither --token nor
GITHUB_TOKEN is set.`,
	RunE: runAuthSetToken,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which token source a sync run would use",
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthSetToken(cmd *cobra.Command, _ []string) error {
	var reader io.Reader
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Token: ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		reader = bytes.NewReader(tokenBytes)
	} else {
		reader = cmd.InOrStdin()
	}

	tokenBytes, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	logger.Infof("Token stored in OS keyring")
	return nil
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	switch {
	case os.Getenv("GITHUB_TOKEN") != "":
		fmt.Println("Token source: GITHUB_TOKEN environment variable")
	case keyringHasToken():
		fmt.Println("Token source: OS keyring")
	case ghHasToken(cmd):
		fmt.Println("Token source: gh CLI")
	default:
		fmt.Println("Token source: none (sync runs use anonymous access)")
	}
	return nil
}

func keyringHasToken() bool {
	token, err := keyring.Get(keyringService, keyringUser)
	return err == nil && token != ""
}

func ghHasToken(cmd *cobra.Command) bool {
	out, err := exec.CommandContext(cmd.Context(), "gh", "auth", "token").Output()
	return err == nil && strings.TrimSpace(string(out)) != ""
}
