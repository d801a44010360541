package secvault

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeyProvider supplies vault keys for CHANGE_KEY
type KeyProvider interface {
	// Key returns the key bytes to install
	Key() ([]byte, error)
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
	KeySize    int      // Derived key size in bytes (default KeySize)
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
	KeySize     int    // Derived key size in bytes (default KeySize)
}

// StaticKeyProvider returns a fixed key
type StaticKeyProvider []byte

// Key returns a copy of the static key
func (s StaticKeyProvider) Key() ([]byte, error) {
	return append([]byte(nil), s...), nil
}

// PaddedKeyProvider turns text into a key of exactly Size bytes: longer
// text is truncated, shorter text is padded with zero bytes.
type PaddedKeyProvider struct {
	Text string
	Size int // default KeySize
}

// Key returns the padded key
func (p PaddedKeyProvider) Key() ([]byte, error) {
	size := p.Size
	if size == 0 {
		size = KeySize
	}
	if size < 0 {
		return nil, NewValidationError("key_size", size, "must not be negative")
	}
	key := make([]byte, size)
	copy(key, p.Text)
	return key, nil
}

// PasswordKeyProvider derives a key from a passphrase and salt
type PasswordKeyProvider struct {
	password     []byte
	salt         []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPasswordKeyProviderPBKDF2 creates a new password-based key provider using PBKDF2
func NewPasswordKeyProviderPBKDF2(password, salt []byte, params PBKDF2Params) *PasswordKeyProvider {
	// Set defaults
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.KeySize == 0 {
		params.KeySize = KeySize
	}

	return &PasswordKeyProvider{
		password:     password,
		salt:         salt,
		useArgon2id:  false,
		pbkdf2Params: params,
	}
}

// NewPasswordKeyProvider creates a new password-based key provider using Argon2id (recommended)
func NewPasswordKeyProvider(password, salt []byte, params Argon2idParams) *PasswordKeyProvider {
	// Set defaults
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.KeySize == 0 {
		params.KeySize = KeySize
	}

	return &PasswordKeyProvider{
		password:     password,
		salt:         salt,
		useArgon2id:  true,
		argon2Params: params,
	}
}

// Key derives the key from the password and salt
func (p *PasswordKeyProvider) Key() ([]byte, error) {
	if len(p.password) == 0 {
		return nil, &ValidationError{Field: "password", Message: "password cannot be empty"}
	}
	if len(p.salt) == 0 {
		return nil, &ValidationError{Field: "salt", Message: "salt cannot be empty"}
	}

	if p.useArgon2id {
		key := argon2.IDKey(
			p.password,
			p.salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			uint32(p.argon2Params.KeySize),
		)
		return key, nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, NewValidationError("hash_func", p.pbkdf2Params.HashFunc, "unsupported hash function")
	}

	key := pbkdf2.Key(
		p.password,
		p.salt,
		p.pbkdf2Params.Iterations,
		p.pbkdf2Params.KeySize,
		hashFunc,
	)
	return key, nil
}

// EnvKeyProvider reads a raw key from an environment variable
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a new environment variable key provider
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

// Key returns the bytes of the environment variable
func (e *EnvKeyProvider) Key() ([]byte, error) {
	v := os.Getenv(e.envVar)
	if v == "" {
		return nil, fmt.Errorf("environment variable %s not set: %w", e.envVar, ErrInvalidArgument)
	}
	return []byte(v), nil
}

// resolveKey asks p for a key, mapping a nil provider to ErrNilKeyProvider
func resolveKey(p KeyProvider) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: %w", ErrNilKeyProvider, ErrInvalidArgument)
	}
	key, err := p.Key()
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return nil, err
		}
		return nil, fmt.Errorf("key provider: %w: %w", ErrInvalidArgument, err)
	}
	return key, nil
}
