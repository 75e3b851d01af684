package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/forest6511/cyfer/internal/config"
	"github.com/forest6511/cyfer/internal/logging"
	"github.com/forest6511/cyfer/pkg/bridge"
	"github.com/forest6511/cyfer/pkg/session"
	"github.com/forest6511/cyfer/pkg/vault"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	configPath   string
	flagVaultDir string
	flagBridge   string
	verbosity    int
)

// Loaded by PersistentPreRunE
var (
	cfg    *config.Config
	logger logr.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cyfer",
	Short:         "cyfer is a local password vault",
	Long:          `A password vault that keeps named service credentials encrypted at rest.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE loads configuration and the logger for every command.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/cyfer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagVaultDir, "vault-dir", "", "Vault directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagBridge, "bridge", "", "Engine bridge: local or mcp (overrides config)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
}

// loadConfig merges defaults, the config file, environment and flags.
func loadConfig(cmd *cobra.Command) error {
	path, explicit := configPath, configPath != ""
	if !explicit {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	c, err := config.Load(path, explicit)
	if err != nil {
		return err
	}
	c.ApplyEnv(os.Getenv)
	if flagVaultDir != "" {
		c.VaultDir = flagVaultDir
	}
	if flagBridge != "" {
		c.Bridge = flagBridge
	}
	if err := c.Validate(); err != nil {
		return err
	}

	// stdout belongs to command output (and to MCP in engine serve).
	log, err := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Verbosity: verbosity,
	})
	if err != nil {
		return err
	}

	cfg = c
	logger = log
	cmd.SetContext(logging.NewContext(cmd.Context(), log))
	return nil
}

// openBridge connects to the engine selected by the configuration. The
// returned closer is never nil.
func openBridge(ctx context.Context) (bridge.Bridge, func(), error) {
	switch cfg.Bridge {
	case config.BridgeMCP:
		engineCmd := exec.CommandContext(ctx, cfg.EngineCommand[0], cfg.EngineCommand[1:]...)
		engineCmd.Stderr = os.Stderr
		m, err := bridge.DialEngine(ctx, engineCmd, version)
		if err != nil {
			return nil, func() {}, err
		}
		return m, func() {
			if err := m.Close(); err != nil {
				logger.V(1).Info("engine session close failed", "error", err.Error())
			}
		}, nil
	default:
		return bridge.NewLocal(openVault()), func() {}, nil
	}
}

// openVault returns the in-process engine for the configured directory.
func openVault() *vault.Vault {
	return vault.New(cfg.VaultDir,
		vault.WithKDFParams(cfg.KDF),
		vault.WithLogger(logger.WithName("vault")),
	)
}

// openSession builds a controller over the configured bridge. Controller
// metrics go to reg when it is not nil.
func openSession(ctx context.Context, reg prometheus.Registerer) (*session.Controller, func(), error) {
	b, closeBridge, err := openBridge(ctx)
	if err != nil {
		return nil, nil, err
	}
	c := session.New(b, session.Options{
		Logger:     logger.WithName("session"),
		Registerer: reg,
		AutoLock:   cfg.AutoLock,
	})
	return c, func() {
		c.Lock()
		closeBridge()
	}, nil
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
