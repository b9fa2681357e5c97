package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRootUsesEnvOverride(t *testing.T) {
	t.Setenv(envStoreRoot, "/tmp/kernel-root")
	root, err := DefaultRoot()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kernel-root", root)
}

func TestDefaultRootFallsBackToHomeDir(t *testing.T) {
	t.Setenv(envStoreRoot, "")
	root, err := DefaultRoot()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
	assert.Contains(t, root, ".kernel")
}

func TestDefaultDBPathUsesEnvOverride(t *testing.T) {
	t.Setenv(envDBPath, "/tmp/custom-events.db")
	path, err := DefaultDBPath("/ignored")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-events.db", path)
}

func TestDefaultDBPathDerivesFromRoot(t *testing.T) {
	t.Setenv(envDBPath, "")
	path, err := DefaultDBPath("/var/lib/kernel")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/kernel", "events.db"), path)
}
