package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestRunAuthSetTokenFromStdin(t *testing.T) {
	keyring.MockInit()
	authSetTokenCmd.SetIn(strings.NewReader("stored-token\n"))

	require.NoError(t, runAuthSetToken(authSetTokenCmd, nil))

	got, err := keyring.Get(keyringService, keyringUser)
	require.NoError(t, err)
	assert.Equal(t, "stored-token", got)
}

func TestRunAuthSetTokenRejectsEmptyInput(t *testing.T) {
	keyring.MockInit()
	authSetTokenCmd.SetIn(strings.NewReader("\n"))

	err := runAuthSetToken(authSetTokenCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token cannot be empty")
}
