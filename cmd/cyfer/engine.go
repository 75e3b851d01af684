package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/cyfer/internal/mcp"
)

var engineMetricsAddr string

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.AddCommand(engineServeCmd)

	engineServeCmd.Flags().StringVar(&engineMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
}

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Secrets engine operations",
}

// engineServeCmd runs the engine as an MCP server on stdio
var engineServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the secrets engine over MCP on stdin/stdout",
	Long: `Serve the secrets engine over the Model Context Protocol on stdin/stdout.

Clients configured with bridge: mcp start this command and send one tool
call per operation. The master password travels with each call; the server
keeps no unlocked state between calls.

Tools: vault_exists, vault_create, credential_verify, entry_list,
entry_fetch, entry_add, entry_delete.

Policy:
  Create <vault-dir>/mcp-policy.yaml to restrict the server:
    allow_write: false   # refuse vault_create, entry_add, entry_delete
    deny_fetch: true     # refuse entry_fetch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngineServer(cmd.Context())
	},
}

func runEngineServer(ctx context.Context) error {
	reg := newMetricsRegistry()

	server, err := mcp.NewServer(&mcp.ServerOptions{
		VaultPath:  cfg.VaultDir,
		KDF:        cfg.KDF,
		Logger:     logger.WithName("engine"),
		Registerer: reg,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if engineMetricsAddr != "" {
		_, stopMetrics, err := serveMetrics(reg, engineMetricsAddr)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	logger.Info("engine serving on stdio", "vault", cfg.VaultDir)
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("engine server error: %w", err)
	}
	return nil
}
