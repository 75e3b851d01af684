package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName identifies this side of an MCP session.
const ClientName = "cyfer-session"

// MCP reaches an engine served over the Model Context Protocol.
type MCP struct {
	session *mcp.ClientSession
}

var _ Bridge = (*MCP)(nil)

// Connect opens a client session over transport.
func Connect(ctx context.Context, transport mcp.Transport, version string) (*MCP, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to connect to engine: %w", err)
	}
	return &MCP{session: session}, nil
}

// DialEngine starts cmd as an engine server speaking MCP over its stdio.
// Close the returned bridge to stop it.
func DialEngine(ctx context.Context, cmd *exec.Cmd, version string) (*MCP, error) {
	return Connect(ctx, &mcp.CommandTransport{Command: cmd}, version)
}

// Close ends the session.
func (m *MCP) Close() error {
	return m.session.Close()
}

func (m *MCP) VaultExists(ctx context.Context) (bool, error) {
	var out ExistsOutput
	if err := m.call(ctx, CallVaultExists, EmptyInput{}, &out); err != nil {
		return false, err
	}
	if out.Error != nil {
		return false, FromWire(CallVaultExists, out.Error)
	}
	return out.Exists, nil
}

func (m *MCP) CreateVault(ctx context.Context, masterPassword string) error {
	var out StatusOutput
	if err := m.call(ctx, CallCreateVault, CredentialInput{MasterPassword: masterPassword}, &out); err != nil {
		return err
	}
	return FromWire(CallCreateVault, out.Error)
}

func (m *MCP) VerifyCredential(ctx context.Context, masterPassword string) (bool, error) {
	var out VerifyOutput
	if err := m.call(ctx, CallVerifyCredential, CredentialInput{MasterPassword: masterPassword}, &out); err != nil {
		return false, err
	}
	if out.Error != nil {
		return false, FromWire(CallVerifyCredential, out.Error)
	}
	return out.Valid, nil
}

func (m *MCP) ListEntries(ctx context.Context, masterPassword string) ([]string, error) {
	var out ListOutput
	if err := m.call(ctx, CallListEntries, CredentialInput{MasterPassword: masterPassword}, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, FromWire(CallListEntries, out.Error)
	}
	if out.Services == nil {
		return []string{}, nil
	}
	return out.Services, nil
}

func (m *MCP) FetchEntry(ctx context.Context, masterPassword, service string) (SecretBundle, error) {
	var out FetchOutput
	if err := m.call(ctx, CallFetchEntry, EntryInput{MasterPassword: masterPassword, Service: service}, &out); err != nil {
		return SecretBundle{}, err
	}
	if out.Error != nil {
		return SecretBundle{}, FromWire(CallFetchEntry, out.Error)
	}
	if out.SecretBundle == nil {
		return SecretBundle{}, &Error{Call: CallFetchEntry, Code: CodeEngine, Message: "result carried no bundle"}
	}
	return *out.SecretBundle, nil
}

func (m *MCP) AddEntry(ctx context.Context, masterPassword, service string, bundle SecretBundle) error {
	var out StatusOutput
	in := AddEntryInput{MasterPassword: masterPassword, Service: service, SecretBundle: bundle}
	if err := m.call(ctx, CallAddEntry, in, &out); err != nil {
		return err
	}
	return FromWire(CallAddEntry, out.Error)
}

func (m *MCP) DeleteEntry(ctx context.Context, masterPassword, service string) error {
	var out StatusOutput
	if err := m.call(ctx, CallDeleteEntry, EntryInput{MasterPassword: masterPassword, Service: service}, &out); err != nil {
		return err
	}
	return FromWire(CallDeleteEntry, out.Error)
}

// call invokes a tool and decodes its structured result into out. Protocol
// failures and tool-level errors are transport failures; engine failures
// arrive inside out.
func (m *MCP) call(ctx context.Context, name string, args, out any) error {
	res, err := m.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return &Error{Call: name, Code: CodeTransport, Message: err.Error(), Err: err}
	}
	if res.IsError {
		return &Error{Call: name, Code: CodeTransport, Message: contentText(res)}
	}

	var data []byte
	if res.StructuredContent != nil {
		data, err = json.Marshal(res.StructuredContent)
		if err != nil {
			return &Error{Call: name, Code: CodeTransport, Message: "unreadable result", Err: err}
		}
	} else {
		data = []byte(contentText(res))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Call: name, Code: CodeTransport, Message: "malformed result", Err: err}
	}
	return nil
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}
