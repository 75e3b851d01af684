// Package config loads cyfer's YAML configuration and applies environment
// overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/cyfer/pkg/crypto"
)

// Bridge kinds.
const (
	BridgeLocal = "local"
	BridgeMCP   = "mcp"
)

// Environment overrides.
const (
	EnvVaultDir = "CYFER_VAULT_DIR"
	EnvBridge   = "CYFER_BRIDGE"
	EnvLogLevel = "CYFER_LOG_LEVEL"
)

// FileName is the configuration file name inside the config directory.
const FileName = "config.yaml"

// appName names the per-user config and data directories.
const appName = "cyfer"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Log selects the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the merged configuration.
type Config struct {
	VaultDir      string        `yaml:"vault_dir"`
	Bridge        string        `yaml:"bridge"`
	EngineCommand []string      `yaml:"engine_command"`
	AutoLock      time.Duration `yaml:"auto_lock"`
	Log           Log           `yaml:"log"`
	KDF           crypto.Params `yaml:"kdf"`
}

// Default returns the built-in configuration. VaultDir is left empty when
// the user data directory cannot be determined.
func Default() *Config {
	dir, _ := DefaultVaultDir()
	return &Config{
		VaultDir: dir,
		Bridge:   BridgeLocal,
		Log:      Log{Level: "info", Format: "text"},
		KDF:      crypto.DefaultParams(),
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/cyfer/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, appName, FileName), nil
}

// DefaultVaultDir returns <user data dir>/cyfer.
func DefaultVaultDir() (string, error) {
	dir, err := userDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

func userDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LocalAppData"); dir != "" {
			return dir, nil
		}
		return "", errors.New("config: %LocalAppData% is not set")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: failed to get user home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" && filepath.IsAbs(dir) {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: failed to get user home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}

// Load reads path over the defaults. A missing file is only an error when
// the caller named it explicitly.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvVaultDir); v != "" {
		c.VaultDir = v
	}
	if v := getenv(EnvBridge); v != "" {
		c.Bridge = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.VaultDir == "" {
		return fmt.Errorf("%w: vault_dir is empty", ErrInvalidConfig)
	}
	c.VaultDir = expandHome(c.VaultDir)

	switch strings.ToLower(c.Bridge) {
	case BridgeLocal:
		c.Bridge = BridgeLocal
	case BridgeMCP:
		c.Bridge = BridgeMCP
		if len(c.EngineCommand) == 0 {
			return fmt.Errorf("%w: bridge %q needs engine_command", ErrInvalidConfig, BridgeMCP)
		}
	default:
		return fmt.Errorf("%w: unknown bridge %q (must be %q or %q)", ErrInvalidConfig, c.Bridge, BridgeLocal, BridgeMCP)
	}

	if c.AutoLock < 0 {
		return fmt.Errorf("%w: auto_lock must not be negative", ErrInvalidConfig)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: kdf: %v", ErrInvalidConfig, err)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
