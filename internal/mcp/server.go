// Package mcp serves the cyfer secrets engine over the Model Context
// Protocol. Each bridge call is one tool; the master password travels with
// every request and the server keeps no unlocked state between calls.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forest6511/cyfer/pkg/audit"
	"github.com/forest6511/cyfer/pkg/bridge"
	"github.com/forest6511/cyfer/pkg/crypto"
	"github.com/forest6511/cyfer/pkg/vault"
)

// ServerName identifies the engine to MCP clients.
const ServerName = "cyfer-engine"

// Server represents the MCP engine server.
type Server struct {
	server  *mcp.Server
	engine  bridge.Bridge
	policy  *Policy
	log     logr.Logger
	metrics *metrics
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// VaultPath is the vault directory. Required.
	VaultPath string

	// KDF is the Argon2id cost for vaults created through this server.
	// Zero means crypto.DefaultParams.
	KDF crypto.Params

	// Logger receives per-call records. Zero means discard.
	Logger logr.Logger

	// Registerer, when set, receives the server's metrics.
	Registerer prometheus.Registerer

	// Version is reported in the MCP handshake.
	Version string
}

// NewServer creates a server for the vault at opts.VaultPath. A missing
// policy file allows everything; an unreadable or insecure one is an error.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.VaultPath == "" {
		return nil, errors.New("mcp: vault path is required")
	}

	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	policy, err := LoadPolicy(opts.VaultPath)
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		policy = DefaultPolicy()
	case err != nil:
		return nil, fmt.Errorf("mcp: failed to load policy: %w", err)
	}

	kdf := opts.KDF
	if kdf == (crypto.Params{}) {
		kdf = crypto.DefaultParams()
	}
	engine := vault.New(opts.VaultPath,
		vault.WithKDFParams(kdf),
		vault.WithLogger(log.WithName("vault")),
		vault.WithAuditSource(audit.SourceMCP),
	)

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server:  mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
		engine:  bridge.NewLocal(engine),
		policy:  policy,
		log:     log,
		metrics: newMetrics(opts.Registerer),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallVaultExists,
		Description: "Report whether an initialized vault exists.",
	}, s.handleVaultExists)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallCreateVault,
		Description: "Create a new vault protected by masterPassword. Fails if one exists.",
	}, s.handleCreateVault)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallVerifyCredential,
		Description: "Check masterPassword against the vault. A wrong password returns valid=false.",
	}, s.handleVerifyCredential)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallListEntries,
		Description: "List service names stored in the vault.",
	}, s.handleListEntries)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallFetchEntry,
		Description: "Return the decrypted secret bundle for one service.",
	}, s.handleFetchEntry)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallAddEntry,
		Description: "Store a new service entry. Existing names are never overwritten.",
	}, s.handleAddEntry)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        bridge.CallDeleteEntry,
		Description: "Delete one service entry.",
	}, s.handleDeleteEntry)
}

// Run serves a single client over stdin/stdout until it disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one client over transport and returns immediately.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}
