// Package bridge is the request/response contract between the session
// controller and a secrets engine.
//
// Every controller operation maps to exactly one Bridge call. A call either
// succeeds with a plain value or fails with an *Error carrying a stable code.
// The engine may live in-process (Local) or behind an MCP server (MCP); the
// controller cannot tell the difference.
package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Bridge is the engine command surface. Implementations must be safe for use
// by one caller at a time; the controller never issues concurrent calls.
type Bridge interface {
	VaultExists(ctx context.Context) (bool, error)
	CreateVault(ctx context.Context, masterPassword string) error
	// VerifyCredential reports a wrong password as (false, nil). An error
	// means the check could not be made.
	VerifyCredential(ctx context.Context, masterPassword string) (bool, error)
	ListEntries(ctx context.Context, masterPassword string) ([]string, error)
	FetchEntry(ctx context.Context, masterPassword, service string) (SecretBundle, error)
	AddEntry(ctx context.Context, masterPassword, service string, bundle SecretBundle) error
	DeleteEntry(ctx context.Context, masterPassword, service string) error
}

// SecretBundle is the decrypted payload of one service entry.
type SecretBundle struct {
	Username string  `json:"username"`
	Secret   string  `json:"secret"`
	Notes    *string `json:"notes,omitempty"`
}

// HasNotes treats a nil and an empty note the same.
func (b SecretBundle) HasNotes() bool {
	return b.Notes != nil && *b.Notes != ""
}

// Call names, used in errors and metrics labels.
const (
	CallVaultExists      = "vault_exists"
	CallCreateVault      = "vault_create"
	CallVerifyCredential = "credential_verify"
	CallListEntries      = "entry_list"
	CallFetchEntry       = "entry_fetch"
	CallAddEntry         = "entry_add"
	CallDeleteEntry      = "entry_delete"
)

// Calls lists every call name in contract order.
var Calls = []string{
	CallVaultExists,
	CallCreateVault,
	CallVerifyCredential,
	CallListEntries,
	CallFetchEntry,
	CallAddEntry,
	CallDeleteEntry,
}

// Error codes.
const (
	CodeIO           = "io"           // storage could not be read or written
	CodeRejected     = "rejected"     // request refused as malformed or not permitted
	CodeExists       = "exists"       // vault or entry already exists
	CodeNotFound     = "not_found"    // vault or entry missing
	CodeUnauthorized = "unauthorized" // credential invalid or in cooldown
	CodeEngine       = "engine"       // engine-side fault, including corruption
	CodeTransport    = "transport"    // the engine could not be reached
)

// Error is a tagged call failure.
type Error struct {
	Call    string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge: %s: %s", e.Call, e.Code)
	}
	return fmt.Sprintf("bridge: %s: %s: %s", e.Call, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == code
}

// CodeOf returns the code of err, CodeEngine for untagged errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeEngine
}
