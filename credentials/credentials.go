// Package credentials provides secure storage for platform API keys.
// Keys live in ~/.meetsync/credentials.yaml, encrypted at rest with AES-GCM.
//
// Encryption Key Storage:
// The encryption key comes from the first available of
// - MEETSYNC_ENCRYPTION_KEY, a 64-character hex string (32 bytes)
// - MEETSYNC_PASSPHRASE, stretched with Argon2id; the salt is kept in the file
// - the system keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service)
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".meetsync"
	DefaultCredentialsFile = "credentials.yaml"

	fileVersion = 1
)

// Common errors.
var (
	// ErrNoCredentials is returned when no key is stored for a platform.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrInvalidCredentials is returned when the credentials file is malformed.
	ErrInvalidCredentials = errors.New("invalid credentials format")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// entry is one stored secret. Value is base64 AES-GCM ciphertext.
type entry struct {
	Value     string    `yaml:"value"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// credentialsFile is the on-disk layout.
type credentialsFile struct {
	Version int `yaml:"version"`
	// Salt is set when the encryption key is derived from a passphrase.
	Salt string           `yaml:"salt,omitempty"`
	Keys map[string]entry `yaml:"keys"`
}

// Status describes a stored key without revealing it.
type Status struct {
	Platform    string    `json:"platform" yaml:"platform"`
	Masked      string    `json:"masked,omitempty" yaml:"masked,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	// Error is set when the stored value cannot be decrypted with the current key.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Store manages credential storage operations.
type Store struct {
	path          string
	encryptionKey []byte
	keyProvider   KeyProvider
	// salt is written to the file when keyProvider is passphrase based.
	salt []byte
	now  func() time.Time
}

// NewStore creates a credential store at the default location using the
// default key provider.
func NewStore() (*Store, error) {
	path, err := CredentialsPath()
	if err != nil {
		return nil, fmt.Errorf("getting credentials path: %w", err)
	}

	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var salt []byte
	if f.Salt != "" {
		salt, err = base64.StdEncoding.DecodeString(f.Salt)
		if err != nil {
			return nil, fmt.Errorf("%w: salt: %v", ErrInvalidCredentials, err)
		}
	}

	provider, salt, err := GetDefaultKeyProvider(salt)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	s, err := newStore(path, provider)
	if err != nil {
		return nil, err
	}
	if _, ok := provider.(*PassphraseKeyProvider); ok {
		s.salt = salt
	}
	return s, nil
}

// NewStoreWithKeyProvider creates a credential store at path with a custom
// key provider. This is primarily used for testing.
func NewStoreWithKeyProvider(path string, keyProvider KeyProvider) (*Store, error) {
	return newStore(path, keyProvider)
}

func newStore(path string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{
		path:          path,
		encryptionKey: key,
		keyProvider:   keyProvider,
		now:           time.Now,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $MEETSYNC_CONFIG_DIR if set, otherwise ~/.meetsync
func CredentialsDir() (string, error) {
	if dir := os.Getenv("MEETSYNC_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Path returns the file this store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// KeySource describes where the encryption key comes from.
func (s *Store) KeySource() string {
	return s.keyProvider.Description()
}

// readFile returns an empty layout when the file does not exist.
func readFile(path string) (*credentialsFile, error) {
	f := &credentialsFile{Version: fileVersion, Keys: map[string]entry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if f.Keys == nil {
		f.Keys = map[string]entry{}
	}
	return f, nil
}

func (s *Store) write(f *credentialsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	f.Version = fileVersion
	if len(s.salt) > 0 {
		f.Salt = base64.StdEncoding.EncodeToString(s.salt)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Write with restrictive permissions, then swap into place.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

func normalizePlatform(platform string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(platform))
	if p == "" {
		return "", errors.New("platform is required")
	}
	return p, nil
}

// SetKey encrypts and stores the API key for platform, replacing any
// previous value.
func (s *Store) SetKey(platform, apiKey string) error {
	p, err := normalizePlatform(platform)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key is empty")
	}

	f, err := readFile(s.path)
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypting API key: %w", err)
	}
	f.Keys[p] = entry{Value: encrypted, UpdatedAt: s.now().UTC()}

	return s.write(f)
}

// Key returns the decrypted API key for platform, or ErrNoCredentials.
func (s *Store) Key(platform string) (string, error) {
	p, err := normalizePlatform(platform)
	if err != nil {
		return "", err
	}

	f, err := readFile(s.path)
	if err != nil {
		return "", err
	}
	e, ok := f.Keys[p]
	if !ok || e.Value == "" {
		return "", ErrNoCredentials
	}

	key, err := s.decrypt(e.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting %s API key: %w", p, err)
	}
	return key, nil
}

// Remove deletes the key for platform. It reports whether a key existed.
func (s *Store) Remove(platform string) (bool, error) {
	p, err := normalizePlatform(platform)
	if err != nil {
		return false, err
	}

	f, err := readFile(s.path)
	if err != nil {
		return false, err
	}
	if _, ok := f.Keys[p]; !ok {
		return false, nil
	}
	delete(f.Keys, p)

	if err := s.write(f); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the status of every stored key, sorted by platform.
func (s *Store) List() ([]Status, error) {
	f, err := readFile(s.path)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(f.Keys))
	for p, e := range f.Keys {
		st := Status{Platform: p, UpdatedAt: e.UpdatedAt}
		if key, err := s.decrypt(e.Value); err != nil {
			st.Error = "cannot decrypt with " + s.keyProvider.Description()
		} else {
			st.Masked = MaskAPIKey(key)
			st.Fingerprint = GenerateAPIKeyID(key)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// KeyOrigin names where a resolved API key came from.
type KeyOrigin string

const (
	OriginEnv    KeyOrigin = "environment"
	OriginConfig KeyOrigin = "config"
	OriginStore  KeyOrigin = "credentials store"
)

// EnvVar returns the environment variable holding platform's API key.
func EnvVar(platform string) string {
	return "MEETSYNC_" + strings.ToUpper(platform) + "_API_KEY"
}

// ResolveAPIKey applies the lookup order: environment variable, config
// value, then the credentials store. open is only called when the first two
// are empty, so a keyring prompt never happens when a key is already at hand.
func ResolveAPIKey(platform, configValue string, open func() (*Store, error)) (string, KeyOrigin, error) {
	if v := strings.TrimSpace(os.Getenv(EnvVar(platform))); v != "" {
		return v, OriginEnv, nil
	}
	if v := strings.TrimSpace(configValue); v != "" {
		return v, OriginConfig, nil
	}
	if open == nil {
		return "", "", ErrNoCredentials
	}

	store, err := open()
	if err != nil {
		return "", "", err
	}
	key, err := store.Key(platform)
	if err != nil {
		return "", "", err
	}
	return key, OriginStore, nil
}

// MaskAPIKey returns a masked API key showing only a short prefix.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", 8) + "..."
}

// GenerateAPIKeyID creates a short ID for an API key (for display purposes).
func GenerateAPIKeyID(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:4])
}
