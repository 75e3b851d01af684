// Package vault is the cyfer secrets engine: an encrypted store of named
// credential entries on local disk.
//
// The engine is stateless between calls. Every operation takes the master
// password, derives the key-encryption key with Argon2id, unwraps the data
// key, performs its work inside a single SQLite transaction and wipes the
// data key before returning. Nothing decrypted outlives the call.
package vault

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/forest6511/cyfer/pkg/audit"
	"github.com/forest6511/cyfer/pkg/crypto"

	_ "modernc.org/sqlite"
)

// Constants
const (
	DBFileName   = "vault.db"
	MetaFileName = "vault.meta"
	LockFileName = "vault.lock"
	AuditDirName = "audit"
	FileMode     = 0600 // Owner read/write only
	DirMode      = 0700 // Owner read/write/execute only

	// Failed verification ladder: 5 -> 30s, 10 -> 5min, 20 -> 30min
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute

	MinDiskSpaceBytes = 10 * 1024 * 1024

	MaxNameLength     = 256
	MaxUsernameLength = 1024
	MaxSecretSize     = 1024 * 1024
	MaxNotesSize      = 10 * 1024

	formatVersion = "1.0.0"
	verifierText  = "cyfer-vault-check"
)

// Errors
var (
	ErrVaultAlreadyExists = errors.New("vault: vault already exists at this path")
	ErrVaultNotFound      = errors.New("vault: vault not found at this path")
	ErrInvalidPassword    = errors.New("vault: invalid master password")
	ErrVaultCorrupted     = errors.New("vault: vault is corrupted")
	ErrCooldownActive     = errors.New("vault: cooldown period active")
	ErrInsufficientDisk   = errors.New("vault: insufficient disk space")
	ErrEntryNotFound      = errors.New("vault: entry not found")
	ErrEntryExists        = errors.New("vault: entry already exists")
	ErrNameEmpty          = errors.New("vault: entry name is empty")
	ErrNameTooLong        = errors.New("vault: entry name too long")
	ErrNameInvalid        = errors.New("vault: entry name contains invalid characters")
	ErrBundleTooLarge     = errors.New("vault: secret bundle too large")
	ErrPasswordEmpty      = errors.New("vault: master password is empty")
)

// Bundle is the decrypted payload of one entry.
type Bundle struct {
	Username string  `json:"username"`
	Secret   string  `json:"secret"`
	Notes    *string `json:"notes,omitempty"`
}

// Meta is written next to the database for humans and tooling.
type Meta struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// LockState tracks failed verification attempts for cooldown enforcement.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
}

// Option configures a Vault.
type Option func(*Vault)

// WithKDFParams sets the Argon2id cost used when creating a vault. Existing
// vaults always use the parameters stored at creation time.
func WithKDFParams(p crypto.Params) Option {
	return func(v *Vault) { v.kdf = p }
}

// WithLogger sets the logger used for operational warnings.
func WithLogger(log logr.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// WithAuditSource tags audit records with the front door in use.
func WithAuditSource(source string) Option {
	return func(v *Vault) { v.source = source }
}

// Vault is a handle on a vault directory. It holds no key material.
type Vault struct {
	path   string
	kdf    crypto.Params
	log    logr.Logger
	source string
	audit  *audit.Logger
	now    func() time.Time

	// Serializes calls from this process; SQLite's busy timeout covers
	// other processes.
	mu sync.Mutex
}

// New returns a handle for the vault directory at path.
func New(path string, opts ...Option) *Vault {
	v := &Vault{
		path:   path,
		kdf:    crypto.DefaultParams(),
		log:    logr.Discard(),
		source: audit.SourceLocal,
		audit:  audit.NewLogger(filepath.Join(path, AuditDirName)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Path returns the vault directory.
func (v *Vault) Path() string {
	return v.path
}

// Exists reports whether an initialized vault is present. A database file
// without a key row (an interrupted Create) counts as absent.
func (v *Vault) Exists() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exists()
}

func (v *Vault) exists() (bool, error) {
	dbPath := filepath.Join(v.path, DBFileName)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("vault: failed to stat database: %w", err)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var tables int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'vault_keys'").Scan(&tables)
	if err != nil {
		return false, fmt.Errorf("vault: failed to read schema: %w", err)
	}
	if tables == 0 {
		return false, nil
	}

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM vault_keys").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("vault: failed to read key table: %w", err)
	}
	return n > 0, nil
}

// Create initializes a new vault protected by masterPassword:
// a random salt and data key are generated, the data key is wrapped with the
// Argon2id-derived key and everything is committed in one transaction.
func (v *Vault) Create(masterPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if masterPassword == "" {
		return ErrPasswordEmpty
	}
	if err := v.kdf.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	exists, err := v.exists()
	if err != nil {
		return err
	}
	if exists {
		return ErrVaultAlreadyExists
	}

	if err := os.MkdirAll(v.path, DirMode); err != nil {
		return fmt.Errorf("vault: failed to create vault directory: %w", err)
	}
	if err := v.checkDiskSpaceForWrite(1024 * 1024); err != nil {
		return err
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	dek, err := crypto.NewKey()
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	defer crypto.SecureWipe(dek)

	kek := crypto.DeriveKey([]byte(masterPassword), salt, v.kdf)
	defer crypto.SecureWipe(kek)

	wrappedDEK, err := crypto.Seal(kek, dek)
	if err != nil {
		return fmt.Errorf("vault: failed to wrap data key: %w", err)
	}
	verifier, err := crypto.Seal(dek, []byte(verifierText))
	if err != nil {
		return fmt.Errorf("vault: failed to create verifier: %w", err)
	}
	kdfJSON, err := json.Marshal(v.kdf)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal kdf params: %w", err)
	}

	dbPath := filepath.Join(v.path, DBFileName)
	db, err := openDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := createTables(db); err != nil {
		return fmt.Errorf("vault: failed to create tables: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"salt":    base64.StdEncoding.EncodeToString(salt),
		"kdf":     string(kdfJSON),
		"version": formatVersion,
	}
	for k, val := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO vault_meta(key, value) VALUES(?, ?)", k, val); err != nil {
			return fmt.Errorf("vault: failed to save %s: %w", k, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO vault_keys(id, wrapped_dek, verifier) VALUES(1, ?, ?)", wrappedDEK, verifier); err != nil {
		return fmt.Errorf("vault: failed to save wrapped data key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		return fmt.Errorf("vault: failed to set database permissions: %w", err)
	}
	if err := v.writeMeta(); err != nil {
		return err
	}

	if err := v.audit.SetHMACKey(dek); err != nil {
		v.log.Error(err, "audit logger unavailable")
	} else {
		_ = v.audit.LogSuccess(audit.OpVaultCreate, v.source, "")
	}
	v.audit.ClearHMACKey()
	return nil
}

// Verify checks masterPassword against the vault. A wrong password returns
// (false, nil) and counts toward the cooldown; an error means the check
// itself could not be performed.
func (v *Vault) Verify(masterPassword string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, err := v.open(masterPassword)
	if errors.Is(err, ErrInvalidPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer s.close()

	_ = v.audit.LogSuccess(audit.OpVaultVerify, v.source, "")
	v.checkAndWarnPermissions()
	return true, nil
}

// List returns every entry name. Order follows insertion.
func (v *Vault) List(masterPassword string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, err := v.open(masterPassword)
	if err != nil {
		return nil, err
	}
	defer s.close()

	rows, err := s.db.Query("SELECT encrypted_name FROM entries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query entries: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		name, err := crypto.Open(s.dek, blob)
		if err != nil {
			return nil, fmt.Errorf("%w: entry name: %v", ErrVaultCorrupted, err)
		}
		names = append(names, string(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}

	_ = v.audit.LogSuccess(audit.OpEntryList, v.source, "")
	return names, nil
}

// Fetch decrypts and returns the bundle stored under name.
func (v *Vault) Fetch(masterPassword, name string) (*Bundle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	s, err := v.open(masterPassword)
	if err != nil {
		return nil, err
	}
	defer s.close()

	var blob []byte
	err = s.db.QueryRow("SELECT encrypted_bundle FROM entries WHERE name_hash = ?", s.nameHash(name)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		_ = v.audit.LogError(audit.OpEntryFetch, v.source, name, "NOT_FOUND", "entry not found")
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read entry: %w", err)
	}

	plaintext, err := crypto.Open(s.dek, blob)
	if err != nil {
		_ = v.audit.LogError(audit.OpEntryFetch, v.source, name, "DECRYPT_FAILED", err.Error())
		return nil, fmt.Errorf("%w: entry bundle: %v", ErrVaultCorrupted, err)
	}
	defer crypto.SecureWipe(plaintext)

	var b Bundle
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("%w: entry bundle: %v", ErrVaultCorrupted, err)
	}
	if b.Notes != nil && *b.Notes == "" {
		b.Notes = nil
	}

	_ = v.audit.LogSuccess(audit.OpEntryFetch, v.source, name)
	return &b, nil
}

// Add stores a new entry. An existing name is rejected, never overwritten.
func (v *Vault) Add(masterPassword, name string, b *Bundle) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: bundle is nil", ErrBundleTooLarge)
	}
	if err := validateBundle(b); err != nil {
		return err
	}

	s, err := v.open(masterPassword)
	if err != nil {
		return err
	}
	defer s.close()

	if err := v.checkDiskSpaceForWrite(len(name) + len(b.Username) + len(b.Secret) + notesLen(b)); err != nil {
		_ = v.audit.LogError(audit.OpEntryAdd, v.source, name, "DISK_FULL", err.Error())
		return err
	}

	stored := *b
	if stored.Notes != nil && *stored.Notes == "" {
		stored.Notes = nil
	}
	plaintext, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal bundle: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	encName, err := crypto.Seal(s.dek, []byte(name))
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt entry name: %w", err)
	}
	encBundle, err := crypto.Seal(s.dek, plaintext)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt bundle: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hash := s.nameHash(name)
	var one int
	err = tx.QueryRow("SELECT 1 FROM entries WHERE name_hash = ?", hash).Scan(&one)
	if err == nil {
		_ = v.audit.LogError(audit.OpEntryAdd, v.source, name, "EXISTS", "entry already exists")
		return ErrEntryExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("vault: failed to check entry: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO entries(name_hash, encrypted_name, encrypted_bundle) VALUES(?, ?, ?)",
		hash, encName, encBundle,
	); err != nil {
		_ = v.audit.LogError(audit.OpEntryAdd, v.source, name, "DB_ERROR", err.Error())
		return fmt.Errorf("vault: failed to save entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}

	_ = v.audit.LogSuccess(audit.OpEntryAdd, v.source, name)
	return nil
}

// Delete removes the entry stored under name.
func (v *Vault) Delete(masterPassword, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	s, err := v.open(masterPassword)
	if err != nil {
		return err
	}
	defer s.close()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM entries WHERE name_hash = ?", s.nameHash(name))
	if err != nil {
		_ = v.audit.LogError(audit.OpEntryDelete, v.source, name, "DB_ERROR", err.Error())
		return fmt.Errorf("vault: failed to delete entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("vault: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		_ = v.audit.LogError(audit.OpEntryDelete, v.source, name, "NOT_FOUND", "entry not found")
		return ErrEntryNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}

	_ = v.audit.LogSuccess(audit.OpEntryDelete, v.source, name)
	return nil
}

// AuditVerify checks the audit chain. The master password is needed to
// derive the chain key.
func (v *Vault) AuditVerify(masterPassword string) (*audit.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, err := v.open(masterPassword)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return v.audit.Verify()
}

// AuditEvents returns the most recent audit records.
func (v *Vault) AuditEvents(masterPassword string, limit int, since time.Time) ([]audit.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, err := v.open(masterPassword)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return v.audit.ListEvents(limit, since)
}

// GetLockState returns the current failed-attempt state for display.
func (v *Vault) GetLockState() (*LockState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLockState()
}

// handle is an unwrapped vault for the duration of one call.
type handle struct {
	v   *Vault
	db  *sql.DB
	dek []byte
}

func (s *handle) close() {
	s.v.audit.ClearHMACKey()
	crypto.SecureWipe(s.dek)
	s.dek = nil
	s.db.Close()
}

// nameHash keys the lookup column with the data key so equal names in
// different vaults hash differently.
func (s *handle) nameHash(name string) string {
	return keyedHash(s.dek, name)
}

// open verifies masterPassword and returns an unwrapped handle. Wrong
// passwords are recorded for the cooldown ladder.
func (v *Vault) open(masterPassword string) (*handle, error) {
	if masterPassword == "" {
		return nil, ErrInvalidPassword
	}

	exists, err := v.exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrVaultNotFound
	}

	if remaining, err := v.checkCooldown(); err != nil {
		if errors.Is(err, ErrCooldownActive) {
			return nil, fmt.Errorf("%w: please wait %v", ErrCooldownActive, remaining.Round(time.Second))
		}
		return nil, err
	}

	db, err := openDB(filepath.Join(v.path, DBFileName))
	if err != nil {
		return nil, err
	}

	salt, params, err := readKDF(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	var wrappedDEK, verifier []byte
	if err := db.QueryRow("SELECT wrapped_dek, verifier FROM vault_keys WHERE id = 1").Scan(&wrappedDEK, &verifier); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: key row: %v", ErrVaultCorrupted, err)
	}

	kek := crypto.DeriveKey([]byte(masterPassword), salt, params)
	dek, err := crypto.Open(kek, wrappedDEK)
	crypto.SecureWipe(kek)
	if err != nil {
		db.Close()
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			if cooldown, recErr := v.recordFailedAttempt(); recErr != nil {
				v.log.Error(recErr, "failed to record verification attempt")
			} else if cooldown > 0 {
				v.log.Info("verification cooldown activated", "duration", cooldown)
			}
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: wrapped data key: %v", ErrVaultCorrupted, err)
	}

	if check, err := crypto.Open(dek, verifier); err != nil || string(check) != verifierText {
		crypto.SecureWipe(dek)
		db.Close()
		return nil, fmt.Errorf("%w: verifier mismatch", ErrVaultCorrupted)
	}

	if err := v.audit.SetHMACKey(dek); err != nil {
		v.log.Error(err, "audit logger unavailable")
	}
	v.flushFailedAttempts()

	return &handle{v: v, db: db, dek: dek}, nil
}

// flushFailedAttempts records the failures since the last success once a
// key is available to sign the audit record, then resets the ladder.
func (v *Vault) flushFailedAttempts() {
	state, err := v.loadLockState()
	if err != nil {
		v.log.Error(err, "failed to load lock state")
		return
	}
	if state.FailedAttempts == 0 {
		return
	}
	_ = v.audit.Log(audit.OpVaultVerifyFailed, v.source, audit.ResultError, "",
		&audit.ErrorInfo{Code: "AUTH_FAILED", Message: "invalid master password"},
		map[string]any{"attempts": state.FailedAttempts, "last_attempt": state.LastAttempt.UTC().Format(time.RFC3339)})
	if err := v.clearLockState(); err != nil {
		v.log.Error(err, "failed to clear lock state")
	}
}

func (v *Vault) writeMeta() error {
	meta := Meta{Version: formatVersion, CreatedAt: v.now().UTC()}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(v.path, MetaFileName), data, FileMode); err != nil {
		return fmt.Errorf("vault: failed to write metadata file: %w", err)
	}
	return nil
}

// checkAndWarnPermissions logs files readable by group or other. Advisory only.
func (v *Vault) checkAndWarnPermissions() {
	if info, err := os.Stat(v.path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			v.log.Info("vault directory has insecure permissions", "perm", fmt.Sprintf("%04o", perm), "expected", "0700")
		}
	}
	for _, name := range []string{DBFileName, MetaFileName} {
		if info, err := os.Stat(filepath.Join(v.path, name)); err == nil {
			if perm := info.Mode().Perm(); perm&0077 != 0 {
				v.log.Info("vault file has insecure permissions", "file", name, "perm", fmt.Sprintf("%04o", perm), "expected", "0600")
			}
		}
	}
}

func (v *Vault) checkDiskSpaceForWrite(dataSize int) error {
	available, err := availableBytes(v.path)
	if err != nil {
		// Unknown free space does not block writes.
		v.log.V(1).Info("disk space check skipped", "error", err.Error())
		return nil
	}
	need := uint64(MinDiskSpaceBytes) + uint64(dataSize)
	if available < need {
		return fmt.Errorf("%w: %d bytes available, need %d", ErrInsufficientDisk, available, need)
	}
	return nil
}

func notesLen(b *Bundle) int {
	if b.Notes == nil {
		return 0
	}
	return len(*b.Notes)
}

func validateBundle(b *Bundle) error {
	if len(b.Username) > MaxUsernameLength {
		return fmt.Errorf("%w: username is %d bytes, maximum %d", ErrBundleTooLarge, len(b.Username), MaxUsernameLength)
	}
	if len(b.Secret) > MaxSecretSize {
		return fmt.Errorf("%w: secret is %d bytes, maximum %d", ErrBundleTooLarge, len(b.Secret), MaxSecretSize)
	}
	if n := notesLen(b); n > MaxNotesSize {
		return fmt.Errorf("%w: notes are %d bytes, maximum %d", ErrBundleTooLarge, n, MaxNotesSize)
	}
	return nil
}
