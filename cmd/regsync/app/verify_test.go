package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modregistry/regsync/internal/registry"
)

func writeVerifyConfig(t *testing.T, registryPath string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, fmt.Appendf(nil, "registry:\n  path: %s\n", registryPath), 0600))
	return path
}

func TestRunVerifyCleanRegistry(t *testing.T) {
	root := t.TempDir()
	writeModuleFixture(t, root, "widget", registry.Metadata{
		Repository: []string{"github:acme/widget"},
	})

	require.NoError(t, verifyCmd.ParseFlags([]string{"--config", writeVerifyConfig(t, root), "--registry", ""}))
	require.NoError(t, runVerify(verifyCmd, nil))
}

func TestRunVerifyFailsOnErrors(t *testing.T) {
	root := t.TempDir()
	// The listed version has no directory on disk.
	writeModuleFixture(t, root, "widget", registry.Metadata{
		Repository: []string{"github:acme/widget"},
		Versions:   []string{"1.0.0"},
	})

	require.NoError(t, verifyCmd.ParseFlags([]string{"--config", writeVerifyConfig(t, root), "--registry", ""}))
	err := runVerify(verifyCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry verification failed")
}

func TestRunVerifyRegistryFlagOverridesConfig(t *testing.T) {
	root := t.TempDir()
	writeModuleFixture(t, root, "widget", registry.Metadata{
		Repository: []string{"github:acme/widget"},
	})

	cfgPath := writeVerifyConfig(t, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, verifyCmd.ParseFlags([]string{"--config", cfgPath, "--registry", root}))
	require.NoError(t, runVerify(verifyCmd, nil))
}
