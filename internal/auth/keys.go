// Package auth guards the operator surface of the kiosk API. Keys have the
// form sgk_<key_id>.<secret>; only a bcrypt hash of the secret is ever kept,
// with the public key id used for lookup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "sgk_"

// ErrInvalidKey covers every validation failure. Callers get no detail:
// which part failed is nobody's business but the log's.
var ErrInvalidKey = errors.New("auth: invalid api key")

// OperatorKey is one provisioned key. The secret itself is returned exactly
// once, at generation.
type OperatorKey struct {
	KeyID      string `json:"key_id"`
	Name       string `json:"name,omitempty"`
	SecretHash string `json:"-"`
}

// Keyring holds the provisioned operator keys. An empty keyring disables
// authentication: a standalone kiosk in a locked room runs open.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]*OperatorKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*OperatorKey)}
}

// ParseKeyring loads "key_id:bcrypt_hash[:name]" entries separated by
// commas, the format kioskctl keygen prints for the environment.
func ParseKeyring(entries string) (*Keyring, error) {
	k := NewKeyring()
	for _, entry := range strings.Split(entries, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("auth: malformed key entry %q", entry)
		}
		key := &OperatorKey{KeyID: parts[0], SecretHash: parts[1]}
		if len(parts) == 3 {
			key.Name = parts[2]
		}
		k.Add(key)
	}
	return k, nil
}

// Add provisions a key.
func (k *Keyring) Add(key *OperatorKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.KeyID] = key
}

// Empty reports whether any key is provisioned.
func (k *Keyring) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) == 0
}

// Generate mints a new key and returns it with the one-time full secret.
// The caller persists the entry; the keyring keeps only the hash.
func (k *Keyring) Generate(name string) (*OperatorKey, string, error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", err
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	keyID := hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)

	// Only the secret is hashed; the id stays clear for lookup.
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	key := &OperatorKey{KeyID: keyID, Name: name, SecretHash: string(hash)}
	k.Add(key)
	return key, fmt.Sprintf("%s%s.%s", keyPrefix, keyID, secret), nil
}

// EnvEntry renders the key in the ParseKeyring format.
func (key *OperatorKey) EnvEntry() string {
	if key.Name == "" {
		return fmt.Sprintf("%s:%s", key.KeyID, key.SecretHash)
	}
	return fmt.Sprintf("%s:%s:%s", key.KeyID, key.SecretHash, key.Name)
}

// Validate checks a full sgk_<id>.<secret> key and returns its record.
func (k *Keyring) Validate(fullKey string) (*OperatorKey, error) {
	if !strings.HasPrefix(fullKey, keyPrefix) {
		return nil, ErrInvalidKey
	}
	parts := strings.SplitN(strings.TrimPrefix(fullKey, keyPrefix), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidKey
	}

	k.mu.RLock()
	key, ok := k.keys[parts[0]]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(parts[1])); err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}
