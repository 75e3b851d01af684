package bridge

import (
	"context"
	"errors"

	"github.com/forest6511/cyfer/pkg/crypto"
	"github.com/forest6511/cyfer/pkg/vault"
)

// Engine is the subset of *vault.Vault that Local drives.
type Engine interface {
	Exists() (bool, error)
	Create(masterPassword string) error
	Verify(masterPassword string) (bool, error)
	List(masterPassword string) ([]string, error)
	Fetch(masterPassword, name string) (*vault.Bundle, error)
	Add(masterPassword, name string, b *vault.Bundle) error
	Delete(masterPassword, name string) error
}

// Local runs the engine in-process.
type Local struct {
	engine Engine
}

var _ Bridge = (*Local)(nil)

// NewLocal wraps an engine.
func NewLocal(engine Engine) *Local {
	return &Local{engine: engine}
}

func (l *Local) VaultExists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, transportError(CallVaultExists, err)
	}
	ok, err := l.engine.Exists()
	if err != nil {
		return false, engineError(CallVaultExists, err)
	}
	return ok, nil
}

func (l *Local) CreateVault(ctx context.Context, masterPassword string) error {
	if err := ctx.Err(); err != nil {
		return transportError(CallCreateVault, err)
	}
	if err := l.engine.Create(masterPassword); err != nil {
		return engineError(CallCreateVault, err)
	}
	return nil
}

func (l *Local) VerifyCredential(ctx context.Context, masterPassword string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, transportError(CallVerifyCredential, err)
	}
	ok, err := l.engine.Verify(masterPassword)
	if err != nil {
		return false, engineError(CallVerifyCredential, err)
	}
	return ok, nil
}

func (l *Local) ListEntries(ctx context.Context, masterPassword string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(CallListEntries, err)
	}
	names, err := l.engine.List(masterPassword)
	if err != nil {
		return nil, engineError(CallListEntries, err)
	}
	return names, nil
}

func (l *Local) FetchEntry(ctx context.Context, masterPassword, service string) (SecretBundle, error) {
	if err := ctx.Err(); err != nil {
		return SecretBundle{}, transportError(CallFetchEntry, err)
	}
	b, err := l.engine.Fetch(masterPassword, service)
	if err != nil {
		return SecretBundle{}, engineError(CallFetchEntry, err)
	}
	return SecretBundle{Username: b.Username, Secret: b.Secret, Notes: b.Notes}, nil
}

func (l *Local) AddEntry(ctx context.Context, masterPassword, service string, bundle SecretBundle) error {
	if err := ctx.Err(); err != nil {
		return transportError(CallAddEntry, err)
	}
	b := &vault.Bundle{Username: bundle.Username, Secret: bundle.Secret, Notes: bundle.Notes}
	if err := l.engine.Add(masterPassword, service, b); err != nil {
		return engineError(CallAddEntry, err)
	}
	return nil
}

func (l *Local) DeleteEntry(ctx context.Context, masterPassword, service string) error {
	if err := ctx.Err(); err != nil {
		return transportError(CallDeleteEntry, err)
	}
	if err := l.engine.Delete(masterPassword, service); err != nil {
		return engineError(CallDeleteEntry, err)
	}
	return nil
}

func transportError(call string, err error) *Error {
	return &Error{Call: call, Code: CodeTransport, Message: err.Error(), Err: err}
}

// engineError tags an engine failure with its contract code.
func engineError(call string, err error) *Error {
	return &Error{Call: call, Code: engineCode(err), Message: err.Error(), Err: err}
}

func engineCode(err error) string {
	switch {
	case errors.Is(err, vault.ErrVaultAlreadyExists), errors.Is(err, vault.ErrEntryExists):
		return CodeExists
	case errors.Is(err, vault.ErrVaultNotFound), errors.Is(err, vault.ErrEntryNotFound):
		return CodeNotFound
	case errors.Is(err, vault.ErrInvalidPassword), errors.Is(err, vault.ErrCooldownActive):
		return CodeUnauthorized
	case errors.Is(err, vault.ErrNameEmpty), errors.Is(err, vault.ErrNameTooLong),
		errors.Is(err, vault.ErrNameInvalid), errors.Is(err, vault.ErrBundleTooLarge),
		errors.Is(err, vault.ErrPasswordEmpty), errors.Is(err, crypto.ErrInvalidParams):
		return CodeRejected
	case errors.Is(err, vault.ErrInsufficientDisk):
		return CodeIO
	case errors.Is(err, vault.ErrVaultCorrupted):
		return CodeEngine
	}
	return CodeIO
}
