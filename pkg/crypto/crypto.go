// Package crypto provides the cryptographic primitives used by the cyfer
// secrets engine.
//
// Keys are derived from the master password with Argon2id and records are
// sealed with AES-256-GCM. Sealed records carry their nonce as a prefix so a
// single blob can be stored per column.
//
// # Example Usage
//
//	salt, _ := crypto.NewSalt()
//	key := crypto.DeriveKey([]byte("password"), salt, crypto.DefaultParams())
//	defer crypto.SecureWipe(key)
//
//	blob, err := crypto.Seal(key, plaintext)
//	plaintext, err := crypto.Open(key, blob)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes (128 bits).
	SaltLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrInvalidParams indicates Argon2id parameters outside the accepted range.
	ErrInvalidParams = errors.New("crypto: invalid key derivation parameters")
)

// Params holds the Argon2id cost parameters. They are stored alongside a
// vault so later derivations use the same cost the vault was created with.
type Params struct {
	MemoryKiB uint32 `json:"m_cost_kib" yaml:"memory_kib"`
	Time      uint32 `json:"t_cost" yaml:"time"`
	Threads   uint8  `json:"p_cost" yaml:"threads"`
}

// DefaultParams returns the OWASP-recommended cost: 64 MiB, 3 passes, 4 lanes.
func DefaultParams() Params {
	return Params{MemoryKiB: 64 * 1024, Time: 3, Threads: 4}
}

// Validate rejects parameters that argon2 would panic on or that are too weak
// to be meaningful.
func (p Params) Validate() error {
	if p.Time < 1 || p.Threads < 1 {
		return fmt.Errorf("%w: time and threads must be at least 1", ErrInvalidParams)
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: memory must be at least 8 KiB per thread", ErrInvalidParams)
	}
	return nil
}

// NewSalt returns SaltLength bytes from crypto/rand.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewKey returns a random 256-bit key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 256-bit key from a password using Argon2id.
// The caller is responsible for validating params; invalid params panic
// inside argon2.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeyLength)
}

// Encrypt encrypts plaintext using AES-256-GCM with a fresh random nonce.
// The authentication tag is appended to the ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt verifies the authentication tag and returns the plaintext.
// Tampering or a wrong key yields ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// GCM tag is 16 bytes
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open reverses Seal.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength {
		return nil, ErrCiphertextTooShort
	}
	return Decrypt(key, blob[NonceLength:], blob[:NonceLength])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// KeepAlive keeps b "in use" after the loop so the stores are not elided.
	runtime.KeepAlive(b)
}
