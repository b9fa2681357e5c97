// Package config resolves kernel configuration from an optional
// kernel.toml file layered under environment variables, which always
// win (the example pack's specmcp config loader follows the same
// precedence: env > file > defaults).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the kernel's process-wide configuration.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Policy  PolicyConfig  `toml:"policy"`
	Signing SigningConfig `toml:"signing"`
}

// StoreConfig controls the artifact store and event ledger.
type StoreConfig struct {
	Root             string `toml:"root"`
	DBPath           string `toml:"db_path"`
	ArtifactMaxBytes int64  `toml:"artifact_max_bytes"`
}

// PolicyConfig holds the policy-set path and regex timeout read from
// kernel.toml or the environment. Load fills these fields, but no kernel
// package reads them: the policy engine uses its own fixed regex timeout.
type PolicyConfig struct {
	SetPath        string `toml:"set_path"`
	RegexTimeoutMS int64  `toml:"regex_timeout_ms"`
}

// SigningConfig holds the default signature algorithm read from
// kernel.toml or the environment. Load fills it, but the signature engine
// does not read it; RSA-SHA256 is the only algorithm it implements.
type SigningConfig struct {
	DefaultAlgorithm string `toml:"default_algorithm"`
}

const (
	envConfigPath   = "KERNEL_CONFIG"
	envStoreRoot    = "KERNEL_STORE_ROOT"
	envDBPath       = "KERNEL_DB_PATH"
	envMaxBytes     = "KERNEL_ARTIFACT_MAX_BYTES"
	envPolicyPath   = "KERNEL_POLICY_SET_PATH"
	envRegexTimeout = "KERNEL_POLICY_REGEX_TIMEOUT_MS"
	envSignAlg      = "KERNEL_SIGNING_DEFAULT_ALGORITHM"

	defaultArtifactMaxBytes = 100 << 20 // 100 MiB
	defaultRegexTimeoutMS   = 50
	defaultSignAlgorithm    = "RSA-SHA256"
)

// Load resolves configuration: defaults, then an optional kernel.toml
// (explicit configPath, else $KERNEL_CONFIG, else ./kernel.toml, all
// optional), then environment variables, which always override
// whatever the file set.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			ArtifactMaxBytes: defaultArtifactMaxBytes,
		},
		Policy: PolicyConfig{
			RegexTimeoutMS: defaultRegexTimeoutMS,
		},
		Signing: SigningConfig{
			DefaultAlgorithm: defaultSignAlgorithm,
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if cfg.Store.ArtifactMaxBytes <= 0 {
		return nil, fmt.Errorf("config: store.artifact_max_bytes must be positive")
	}
	if cfg.Policy.RegexTimeoutMS <= 0 {
		return nil, fmt.Errorf("config: policy.regex_timeout_ms must be positive")
	}

	return cfg, nil
}

func (c *Config) loadFile(explicit string) error {
	path := resolveConfigPath(explicit)
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat("kernel.toml"); err == nil {
		return "kernel.toml"
	}
	return ""
}

func (c *Config) applyEnv() {
	envOverrideString(envStoreRoot, &c.Store.Root)
	envOverrideString(envDBPath, &c.Store.DBPath)
	envOverrideInt64(envMaxBytes, &c.Store.ArtifactMaxBytes)
	envOverrideString(envPolicyPath, &c.Policy.SetPath)
	envOverrideInt64(envRegexTimeout, &c.Policy.RegexTimeoutMS)
	envOverrideString(envSignAlg, &c.Signing.DefaultAlgorithm)
}

func envOverrideString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt64(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil && n > 0 {
		*dst = n
	}
}
