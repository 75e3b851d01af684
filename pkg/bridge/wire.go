package bridge

import "errors"

// Tool argument and result shapes for the MCP engine protocol. Field names
// are part of the contract.

// CredentialInput carries only the master password.
type CredentialInput struct {
	MasterPassword string `json:"masterPassword" jsonschema:"the vault master password"`
}

// EntryInput addresses one service.
type EntryInput struct {
	MasterPassword string `json:"masterPassword" jsonschema:"the vault master password"`
	Service        string `json:"service" jsonschema:"the service name"`
}

// AddEntryInput carries a new entry.
type AddEntryInput struct {
	MasterPassword string       `json:"masterPassword" jsonschema:"the vault master password"`
	Service        string       `json:"service" jsonschema:"the service name"`
	SecretBundle   SecretBundle `json:"secretBundle" jsonschema:"username, secret and optional notes"`
}

// EmptyInput is the argument of vault_exists.
type EmptyInput struct{}

// WireError is an engine failure reported inside a successful tool result.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExistsOutput is the result of vault_exists.
type ExistsOutput struct {
	Exists bool       `json:"exists"`
	Error  *WireError `json:"error,omitempty"`
}

// VerifyOutput is the result of credential_verify.
type VerifyOutput struct {
	Valid bool       `json:"valid"`
	Error *WireError `json:"error,omitempty"`
}

// ListOutput is the result of entry_list.
type ListOutput struct {
	Services []string  `json:"services"`
	Error    *WireError `json:"error,omitempty"`
}

// FetchOutput is the result of entry_fetch.
type FetchOutput struct {
	SecretBundle *SecretBundle `json:"secretBundle,omitempty"`
	Error        *WireError    `json:"error,omitempty"`
}

// StatusOutput is the result of calls with no value.
type StatusOutput struct {
	OK    bool       `json:"ok"`
	Error *WireError `json:"error,omitempty"`
}

// ToWire converts a call failure for transmission. Untagged errors travel
// as engine faults.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	return &WireError{Code: CodeOf(err), Message: messageOf(err)}
}

func messageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

// FromWire rebuilds the *Error for call.
func FromWire(call string, w *WireError) error {
	if w == nil {
		return nil
	}
	code := w.Code
	if code == "" {
		code = CodeEngine
	}
	return &Error{Call: call, Code: code, Message: w.Message}
}
