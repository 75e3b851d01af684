package session

import (
	"errors"
	"sync/atomic"

	"github.com/awnumar/memguard"

	"github.com/forest6511/cyfer/pkg/bridge"
)

var errCredentialWiped = errors.New("session: credential has been discarded")

// credential holds the master password encrypted in a memguard enclave.
type credential struct {
	// enclave is swapped to nil on wipe; an in-flight call may still be
	// reading it.
	enclave atomic.Pointer[memguard.Enclave]
}

// newCredential seals pw. The temporary byte copy is wiped by memguard.
func newCredential(pw string) *credential {
	c := &credential{}
	c.enclave.Store(memguard.NewEnclave([]byte(pw)))
	return c
}

// use decrypts the credential for the duration of fn. The string passed to
// fn aliases locked memory and must not be retained.
func (c *credential) use(fn func(pw string) error) error {
	enclave := c.enclave.Load()
	if enclave == nil {
		return errCredentialWiped
	}
	buf, err := enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// wipe drops the enclave. memguard keeps the sealing key in locked memory,
// so the ciphertext left behind cannot be opened once the reference is gone.
func (c *credential) wipe() {
	if c == nil {
		return
	}
	c.enclave.Store(nil)
}

// heldBundle is the one decrypted entry kept client-side. The secret sits in
// a locked buffer so it can be overwritten on clear.
type heldBundle struct {
	service  string
	username string
	notes    *string
	secret   *memguard.LockedBuffer
	revealed bool
}

func newHeldBundle(service string, b bridge.SecretBundle) *heldBundle {
	h := &heldBundle{service: service, username: b.Username}
	if b.HasNotes() {
		n := *b.Notes
		h.notes = &n
	}
	if b.Secret != "" {
		h.secret = memguard.NewBufferFromBytes([]byte(b.Secret))
	}
	return h
}

// wipe overwrites and releases the secret.
func (h *heldBundle) wipe() {
	if h == nil {
		return
	}
	if h.secret != nil {
		h.secret.Destroy()
	}
	h.secret = nil
	h.username = ""
	h.notes = nil
	h.revealed = false
}

// view builds the presentation copy. The secret is not copied into it;
// secret reads it on demand.
func (h *heldBundle) view(secret func() (string, bool)) *SelectionView {
	v := &SelectionView{Service: h.service, Username: h.username, Revealed: h.revealed, secret: secret}
	if h.notes != nil {
		n := *h.notes
		v.Notes = &n
	}
	return v
}

// revealedSecret copies the secret out of locked memory while revealed.
func (h *heldBundle) revealedSecret() (string, bool) {
	if !h.revealed || h.secret == nil {
		return "", false
	}
	return string(h.secret.Bytes()), true
}
