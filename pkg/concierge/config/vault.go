// vault.go is an encrypted secret store: AES-256-GCM with an Argon2id key
// derived from a master password. The password itself never touches disk;
// only the salted derivation parameters and ciphertext do.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

// DefaultVaultFile is the vault filename inside the data directory.
const DefaultVaultFile = "concierge.vault"

// Argon2id parameters per current OWASP guidance.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// verifyEntry is a fixed plaintext used to detect wrong passwords without
// decrypting real secrets.
const (
	verifyEntryName = "__verify__"
	verifyPlaintext = "concierge-vault-ok"
)

type vaultEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type vaultData struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

// Vault is a password-protected secret file. It starts locked; Create or
// Unlock derive the in-memory key.
type Vault struct {
	path string
	data *vaultData
	key  []byte
	mu   sync.RWMutex
}

// NewVault points at a vault file without opening it.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Exists reports whether the vault file is on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Path returns the vault file location.
func (v *Vault) Path() string { return v.path }

// IsUnlocked reports whether the derived key is in memory.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Create initializes a new vault protected by password. Fails if the file
// already exists.
func (v *Vault) Create(password string) error {
	if v.Exists() {
		return fmt.Errorf("vault already exists at %s", v.path)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.key = deriveKey(password, salt)
	v.data = &vaultData{
		Version: 1,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make(map[string]vaultEntry),
	}

	ve, err := encryptEntry(v.key, []byte(verifyPlaintext))
	if err != nil {
		return fmt.Errorf("writing verification entry: %w", err)
	}
	v.data.Entries[verifyEntryName] = ve

	return v.saveLocked()
}

// Unlock loads the vault and verifies the password against the
// verification entry.
func (v *Vault) Unlock(password string) error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("reading vault: %w", err)
	}

	var data vaultData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing vault: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}

	key := deriveKey(password, salt)
	if verify, ok := data.Entries[verifyEntryName]; ok {
		if _, err := decryptEntry(key, verify); err != nil {
			return fmt.Errorf("wrong password")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.data = &data
	return nil
}

// Lock zeroes and discards the derived key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

// Set encrypts and stores a secret. The vault must be unlocked.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}

	entry, err := encryptEntry(v.key, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}
	v.data.Entries[name] = entry
	return v.saveLocked()
}

// Get decrypts one secret. Missing names return an empty string with no
// error.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return "", fmt.Errorf("vault is locked")
	}

	entry, ok := v.data.Entries[name]
	if !ok {
		return "", nil
	}

	plaintext, err := decryptEntry(v.key, entry)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", name, err)
	}
	return string(plaintext), nil
}

// Delete removes a secret. The vault must be unlocked.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}
	delete(v.data.Entries, name)
	return v.saveLocked()
}

// List returns stored secret names, excluding internal entries.
func (v *Vault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil || v.data == nil {
		return nil
	}

	var names []string
	for name := range v.data.Entries {
		if name == verifyEntryName {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ChangePassword re-encrypts every entry under a key derived from the new
// password and a fresh salt.
func (v *Vault) ChangePassword(newPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}

	decrypted := make(map[string][]byte, len(v.data.Entries))
	for name, entry := range v.data.Entries {
		plaintext, err := decryptEntry(v.key, entry)
		if err != nil {
			return fmt.Errorf("decrypting %s: %w", name, err)
		}
		decrypted[name] = plaintext
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	newKey := deriveKey(newPassword, salt)

	entries := make(map[string]vaultEntry, len(decrypted))
	for name, plaintext := range decrypted {
		entry, err := encryptEntry(newKey, plaintext)
		if err != nil {
			return fmt.Errorf("re-encrypting %s: %w", name, err)
		}
		entries[name] = entry
	}

	for i := range v.key {
		v.key[i] = 0
	}
	v.key = newKey
	v.data.Salt = base64.StdEncoding.EncodeToString(salt)
	v.data.Entries = entries
	return v.saveLocked()
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func encryptEntry(key, plaintext []byte) (vaultEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return vaultEntry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return vaultEntry{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, err
	}

	return vaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func decryptEntry(key []byte, entry vaultEntry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}

// saveLocked writes the vault file with owner-only permissions. Caller
// holds v.mu.
func (v *Vault) saveLocked() error {
	data, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault: %w", err)
	}
	return nil
}

// ReadPassword prompts on the terminal without echo, falling back to a
// plain stdin read when no terminal is attached.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}

	s := string(password)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, nil
}
