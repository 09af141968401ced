package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolveTokenPrefersFlag(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")

	assert.Equal(t, "flag-token", resolveToken(context.Background(), "flag-token"))
}

func TestResolveTokenFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")

	assert.Equal(t, "env-token", resolveToken(context.Background(), ""))
}

func TestResolveTokenFromKeyring(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	keyring.MockInit()
	require.NoError(t, keyring.Set(keyringService, keyringUser, "keyring-token"))

	assert.Equal(t, "keyring-token", resolveToken(context.Background(), ""))
}
