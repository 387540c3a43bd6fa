// Package credential implements the Credential Store (§4.1 password
// derivation, §3 Share.RepoKeySalt): it encrypts secrets at rest with
// AES-256-GCM — the same cipher and wire format as the teacher's
// db.EncryptedString — and derives per-share repository keys with
// PBKDF2-HMAC-SHA256 when a share has no repository password of its own.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"
)

// ErrKeyNotInitialized is returned by Encrypt/Decrypt before Store.key is set.
var ErrKeyNotInitialized = errors.New("credential: encryption key not initialized")

// SaltSize is the fixed size, in bytes, of a share's repository key salt (§3).
const SaltSize = 32

// KeySize is the derived repository key size in bytes (§4.1).
const KeySize = 32

// Store encrypts and decrypts secrets at rest and derives repository keys.
// The zero value is not usable — create instances with New.
type Store struct {
	key        []byte // AES-256 master key, exactly 32 bytes
	iterations int    // PBKDF2 iteration count (§6 pbkdf2_iterations, default 150000)
}

// New returns a Store using masterKey (padded/truncated to 32 bytes, matching
// the teacher's InitEncryption convention) and the given PBKDF2 iteration
// count.
func New(masterKey []byte, iterations int) (*Store, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("credential: master key must not be empty")
	}
	key := make([]byte, 32)
	copy(key, masterKey)
	if iterations < 1000 {
		return nil, fmt.Errorf("credential: iterations must be at least 1000, got %d", iterations)
	}
	return &Store{key: key, iterations: iterations}, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns base64(nonce || ciphertext || tag). An empty plaintext encrypts to
// an empty string, matching db.EncryptedString's convention so a blank
// credential field round-trips without requiring a sentinel.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credential: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. An empty input decrypts to the empty string.
func (s *Store) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("credential: failed to decode base64: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("credential: ciphertext too short to contain a nonce")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("credential: failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	if s == nil || len(s.key) == 0 {
		return nil, ErrKeyNotInitialized
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// NewSalt returns a fresh random 32-byte salt, used the first time a share
// needs a derived repository key (§4.1: "ensure a 32-byte random salt exists
// on the share; create and persist if absent").
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("credential: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey computes PBKDF2-HMAC-SHA256(devicePassword, salt, iterations, 32)
// — repeated calls with the same password and salt are required to return
// identical bytes (§8 "Salt derivation is stable").
func (s *Store) DeriveKey(devicePassword string, salt []byte) []byte {
	return pbkdf2.Key([]byte(devicePassword), salt, s.iterations, KeySize, sha256.New)
}
