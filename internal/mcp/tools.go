package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/cyfer/pkg/bridge"
)

// Engine failures are reported inside a successful result so the client can
// tell them apart from protocol failures. Handlers never return a Go error.

func (s *Server) handleVaultExists(ctx context.Context, _ *mcp.CallToolRequest, _ bridge.EmptyInput) (*mcp.CallToolResult, bridge.ExistsOutput, error) {
	start := time.Now()
	ok, err := s.engine.VaultExists(ctx)
	s.finish(bridge.CallVaultExists, start, err)
	return nil, bridge.ExistsOutput{Exists: ok, Error: bridge.ToWire(err)}, nil
}

func (s *Server) handleCreateVault(ctx context.Context, _ *mcp.CallToolRequest, in bridge.CredentialInput) (*mcp.CallToolResult, bridge.StatusOutput, error) {
	start := time.Now()
	if err := s.denyWrite(bridge.CallCreateVault); err != nil {
		s.finish(bridge.CallCreateVault, start, err)
		return nil, bridge.StatusOutput{Error: bridge.ToWire(err)}, nil
	}
	err := s.engine.CreateVault(ctx, in.MasterPassword)
	s.finish(bridge.CallCreateVault, start, err)
	return nil, bridge.StatusOutput{OK: err == nil, Error: bridge.ToWire(err)}, nil
}

func (s *Server) handleVerifyCredential(ctx context.Context, _ *mcp.CallToolRequest, in bridge.CredentialInput) (*mcp.CallToolResult, bridge.VerifyOutput, error) {
	start := time.Now()
	ok, err := s.engine.VerifyCredential(ctx, in.MasterPassword)
	s.finish(bridge.CallVerifyCredential, start, err)
	return nil, bridge.VerifyOutput{Valid: ok, Error: bridge.ToWire(err)}, nil
}

func (s *Server) handleListEntries(ctx context.Context, _ *mcp.CallToolRequest, in bridge.CredentialInput) (*mcp.CallToolResult, bridge.ListOutput, error) {
	start := time.Now()
	names, err := s.engine.ListEntries(ctx, in.MasterPassword)
	s.finish(bridge.CallListEntries, start, err)
	if names == nil {
		names = []string{}
	}
	return nil, bridge.ListOutput{Services: names, Error: bridge.ToWire(err)}, nil
}

func (s *Server) handleFetchEntry(ctx context.Context, _ *mcp.CallToolRequest, in bridge.EntryInput) (*mcp.CallToolResult, bridge.FetchOutput, error) {
	start := time.Now()
	if allowed, reason := s.policy.FetchAllowed(in.Service); !allowed {
		err := &bridge.Error{Call: bridge.CallFetchEntry, Code: bridge.CodeRejected, Message: "denied by policy: " + reason}
		s.finish(bridge.CallFetchEntry, start, err)
		return nil, bridge.FetchOutput{Error: bridge.ToWire(err)}, nil
	}
	b, err := s.engine.FetchEntry(ctx, in.MasterPassword, in.Service)
	s.finish(bridge.CallFetchEntry, start, err)
	if err != nil {
		return nil, bridge.FetchOutput{Error: bridge.ToWire(err)}, nil
	}
	return nil, bridge.FetchOutput{SecretBundle: &b}, nil
}

func (s *Server) handleAddEntry(ctx context.Context, _ *mcp.CallToolRequest, in bridge.AddEntryInput) (*mcp.CallToolResult, bridge.StatusOutput, error) {
	start := time.Now()
	if err := s.denyWrite(bridge.CallAddEntry); err != nil {
		s.finish(bridge.CallAddEntry, start, err)
		return nil, bridge.StatusOutput{Error: bridge.ToWire(err)}, nil
	}
	err := s.engine.AddEntry(ctx, in.MasterPassword, in.Service, in.SecretBundle)
	s.finish(bridge.CallAddEntry, start, err)
	return nil, bridge.StatusOutput{OK: err == nil, Error: bridge.ToWire(err)}, nil
}

func (s *Server) handleDeleteEntry(ctx context.Context, _ *mcp.CallToolRequest, in bridge.EntryInput) (*mcp.CallToolResult, bridge.StatusOutput, error) {
	start := time.Now()
	if err := s.denyWrite(bridge.CallDeleteEntry); err != nil {
		s.finish(bridge.CallDeleteEntry, start, err)
		return nil, bridge.StatusOutput{Error: bridge.ToWire(err)}, nil
	}
	err := s.engine.DeleteEntry(ctx, in.MasterPassword, in.Service)
	s.finish(bridge.CallDeleteEntry, start, err)
	return nil, bridge.StatusOutput{OK: err == nil, Error: bridge.ToWire(err)}, nil
}

func (s *Server) denyWrite(call string) error {
	if s.policy.WriteAllowed() {
		return nil
	}
	return &bridge.Error{Call: call, Code: bridge.CodeRejected, Message: "denied by policy: writes are disabled"}
}

// finish records metrics and logs the outcome. Arguments are never logged.
func (s *Server) finish(tool string, start time.Time, err error) {
	s.metrics.observe(tool, start, err)
	if err != nil {
		s.log.Info("tool call failed", "tool", tool, "code", bridge.CodeOf(err), "duration", time.Since(start))
		return
	}
	s.log.V(1).Info("tool call", "tool", tool, "duration", time.Since(start))
}
