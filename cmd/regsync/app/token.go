package app

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/modregistry/regsync/internal/logger"
)

const (
	keyringService = "regsync"
	keyringUser    = "github-token"
)

// resolveToken picks the hosting platform token, trying sources in
// order: the --token flag, the GITHUB_TOKEN environment variable, the
// OS keyring, and finally the gh CLI. An empty result means anonymous
// access, which the platform rate-limits quickly.
func resolveToken(ctx context.Context, flagToken string) string {
	if flagToken != "" {
		logger.Debugf("Using token from command-line flag")
		return flagToken
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		logger.Debugf("Using token from GITHUB_TOKEN environment variable")
		return token
	}
	if token, err := keyring.Get(keyringService, keyringUser); err == nil && token != "" {
		logger.Debugf("Using token from OS keyring")
		return token
	}
	if out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output(); err == nil {
		if token := strings.TrimSpace(string(out)); token != "" {
			logger.Debugf("Using token from `gh auth token`")
			return token
		}
	}
	logger.Debugf("No token available; proceeding anonymously")
	return ""
}
