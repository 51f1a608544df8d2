package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// Where the store's AES-256 key comes from, in lookup order.
const (
	// EnvEncryptionKey holds a hex encoded key, for CI and headless hosts.
	EnvEncryptionKey = "MEETSYNC_ENCRYPTION_KEY"
	// EnvPassphrase holds a passphrase the key is derived from.
	EnvPassphrase = "MEETSYNC_PASSPHRASE"

	keyringService = "meetsync"
	keyringUser    = "encryption-key"
)

const (
	keyLength  = 32
	saltLength = 16

	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
)

// ErrKeyringUnavailable is returned when the OS keyring cannot be read or written.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider supplies the key that seals stored API keys.
type KeyProvider interface {
	GetKey() ([]byte, error)
	// Description names the key's origin for 'meetsync auth status'.
	Description() string
}

// decodeKey parses a hex key and checks its length. origin is used in errors.
func decodeKey(raw, origin string) ([]byte, error) {
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", origin, err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", origin, keyLength, len(key))
	}
	return key, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// KeyringKeyProvider keeps a random key in the OS keyring, creating it on
// first use. A stored value that does not decode is replaced.
type KeyringKeyProvider struct {
	mu sync.Mutex
}

// NewKeyringKeyProvider returns a KeyringKeyProvider.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := keyring.Get(keyringService, keyringUser)
	switch {
	case err == nil:
		if key, derr := decodeKey(stored, "keyring"); derr == nil {
			return key, nil
		}
	case !errors.Is(err, keyring.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key, err := randomBytes(keyLength)
	if err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// PassphraseKeyProvider derives the key from a passphrase with Argon2id. The
// salt lives in the credentials file next to the sealed keys.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

// NewPassphraseKeyProvider returns a PassphraseKeyProvider for passphrase and salt.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

func (p *PassphraseKeyProvider) GetKey() ([]byte, error) {
	switch {
	case p.passphrase == "":
		return nil, errors.New("passphrase is required")
	case len(p.salt) == 0:
		return nil, errors.New("salt is required")
	}
	return argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
}

func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// GenerateSalt returns a fresh salt for PassphraseKeyProvider.
func GenerateSalt() ([]byte, error) {
	salt, err := randomBytes(saltLength)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a hex key from an environment variable.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider returns an EnvKeyProvider for envVar.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	raw := os.Getenv(p.envVar)
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}
	return decodeKey(raw, p.envVar)
}

func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// GetDefaultKeyProvider picks the key source: MEETSYNC_ENCRYPTION_KEY, then
// MEETSYNC_PASSPHRASE with salt (generated when empty), then the OS keyring.
// The salt is returned only for the passphrase source.
func GetDefaultKeyProvider(salt []byte) (KeyProvider, []byte, error) {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey), nil, nil
	}

	if pass := os.Getenv(EnvPassphrase); pass != "" {
		if len(salt) == 0 {
			fresh, err := GenerateSalt()
			if err != nil {
				return nil, nil, err
			}
			salt = fresh
		}
		return NewPassphraseKeyProvider(pass, salt), salt, nil
	}

	kr := NewKeyringKeyProvider()
	if _, err := kr.GetKey(); err != nil {
		if errors.Is(err, ErrKeyringUnavailable) {
			return nil, nil, fmt.Errorf("no usable key: set %s or %s: %w", EnvEncryptionKey, EnvPassphrase, err)
		}
		return nil, nil, err
	}
	return kr, nil, nil
}

// IsKeyringAvailable reports whether the OS keyring can hold the key.
func IsKeyringAvailable() bool {
	_, err := NewKeyringKeyProvider().GetKey()
	return err == nil
}
