package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/cyfer/pkg/crypto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, BridgeLocal, cfg.Bridge)
	assert.Equal(t, crypto.DefaultParams(), cfg.KDF)

	_, err = Load(path, true)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
vault_dir: /tmp/vault
bridge: mcp
engine_command: ["cyfer", "engine", "serve"]
auto_lock: 5m
log:
  level: debug
  format: json
kdf:
  memory_kib: 16384
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/vault", cfg.VaultDir)
	assert.Equal(t, BridgeMCP, cfg.Bridge)
	assert.Equal(t, []string{"cyfer", "engine", "serve"}, cfg.EngineCommand)
	assert.Equal(t, 5*time.Minute, cfg.AutoLock)
	assert.Equal(t, Log{Level: "debug", Format: "json"}, cfg.Log)

	// Unset kdf fields keep their defaults.
	assert.Equal(t, uint32(16384), cfg.KDF.MemoryKiB)
	assert.Equal(t, crypto.DefaultParams().Time, cfg.KDF.Time)
	assert.Equal(t, crypto.DefaultParams().Threads, cfg.KDF.Threads)

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, BridgeLocal, cfg.Bridge)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "vault_dirr: /tmp\n"), true)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "auto_lock: soon\n"), true)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvVaultDir: "/srv/vault",
		EnvBridge:   "mcp",
		EnvLogLevel: "warn",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "/srv/vault", cfg.VaultDir)
	assert.Equal(t, "mcp", cfg.Bridge)
	assert.Equal(t, "warn", cfg.Log.Level)

	// Empty values leave the file settings alone.
	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, "/srv/vault", cfg.VaultDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty vault dir", func(c *Config) { c.VaultDir = "" }, true},
		{"unknown bridge", func(c *Config) { c.Bridge = "grpc" }, true},
		{"mcp without command", func(c *Config) { c.Bridge = BridgeMCP }, true},
		{"mcp with command", func(c *Config) {
			c.Bridge = "MCP"
			c.EngineCommand = []string{"cyfer", "engine", "serve"}
		}, false},
		{"negative auto lock", func(c *Config) { c.AutoLock = -time.Second }, true},
		{"bad kdf", func(c *Config) { c.KDF.Threads = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.VaultDir = "/tmp/vault"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateNormalizesBridge(t *testing.T) {
	cfg := Default()
	cfg.VaultDir = "/tmp/vault"
	cfg.Bridge = "Local"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BridgeLocal, cfg.Bridge)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "vault"), expandHome("~/vault"))
	assert.Equal(t, "/abs/vault", expandHome("/abs/vault"))
	assert.Equal(t, "~user/vault", expandHome("~user/vault"))
}

func TestDefaultVaultDir(t *testing.T) {
	dir, err := DefaultVaultDir()
	if err != nil {
		t.Skipf("no user data directory: %v", err)
	}
	assert.Equal(t, appName, filepath.Base(dir))
}
