package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/cyfer/pkg/crypto"
)

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open database: %w", err)
	}
	// One writer per handle; concurrent processes wait on the busy timeout.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault: failed to configure database: %w", err)
		}
	}
	return db, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// vault_keys holds the wrapped data key and a sealed verifier.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_keys (
			id INTEGER PRIMARY KEY,
			wrapped_dek BLOB NOT NULL,
			verifier BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// entries: encrypted_name and encrypted_bundle carry their nonce as prefix.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY,
			name_hash TEXT UNIQUE NOT NULL,
			encrypted_name BLOB NOT NULL,
			encrypted_bundle BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// readKDF loads the salt and Argon2id cost stored at creation time.
func readKDF(db *sql.DB) ([]byte, crypto.Params, error) {
	var saltB64, kdfJSON string
	if err := db.QueryRow("SELECT value FROM vault_meta WHERE key = 'salt'").Scan(&saltB64); err != nil {
		return nil, crypto.Params{}, fmt.Errorf("%w: salt: %v", ErrVaultCorrupted, err)
	}
	if err := db.QueryRow("SELECT value FROM vault_meta WHERE key = 'kdf'").Scan(&kdfJSON); err != nil {
		return nil, crypto.Params{}, fmt.Errorf("%w: kdf params: %v", ErrVaultCorrupted, err)
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil || len(salt) != crypto.SaltLength {
		return nil, crypto.Params{}, fmt.Errorf("%w: invalid salt", ErrVaultCorrupted)
	}
	var params crypto.Params
	if err := json.Unmarshal([]byte(kdfJSON), &params); err != nil {
		return nil, crypto.Params{}, fmt.Errorf("%w: kdf params: %v", ErrVaultCorrupted, err)
	}
	if err := params.Validate(); err != nil {
		return nil, crypto.Params{}, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return salt, params, nil
}

func keyedHash(key []byte, name string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("entry-name:"))
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeName returns the canonical form of an entry name: surrounding
// whitespace trimmed and Unicode NFC applied, so visually identical names
// typed on different platforms address the same entry.
func NormalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrNameInvalid)
	}
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: %d bytes, maximum %d", ErrNameTooLong, len(name), MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character %U", ErrNameInvalid, r)
		}
	}
	return name, nil
}
