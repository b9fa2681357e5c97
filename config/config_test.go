package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.EqualValues(t, defaultArtifactMaxBytes, cfg.Store.ArtifactMaxBytes)
	assert.EqualValues(t, defaultRegexTimeoutMS, cfg.Policy.RegexTimeoutMS)
	assert.Equal(t, defaultSignAlgorithm, cfg.Signing.DefaultAlgorithm)
}

func TestLoadReadsExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	contents := `
[store]
root = "/var/lib/kernel"
artifact_max_bytes = 2048

[signing]
default_algorithm = "RSA-SHA256"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kernel", cfg.Store.Root)
	assert.EqualValues(t, 2048, cfg.Store.ArtifactMaxBytes)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
root = "/from/file"
`), 0o600))

	t.Setenv("KERNEL_STORE_ROOT", "/from/env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Store.Root)
}

func TestLoadRejectsNonPositiveArtifactMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
artifact_max_bytes = -1
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadIgnoresNonPositiveEnvOverride(t *testing.T) {
	t.Setenv("KERNEL_ARTIFACT_MAX_BYTES", "-5")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.EqualValues(t, defaultArtifactMaxBytes, cfg.Store.ArtifactMaxBytes)
}

func TestResolveConfigPathPrefersExplicitThenEnv(t *testing.T) {
	t.Setenv("KERNEL_CONFIG", "/env/path.toml")
	assert.Equal(t, "/explicit.toml", resolveConfigPath("/explicit.toml"))
	assert.Equal(t, "/env/path.toml", resolveConfigPath(""))
}
