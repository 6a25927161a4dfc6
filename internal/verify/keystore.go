package verify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/traceguard/internal/model"
)

// DevKeyID is the key id of the bundled development key
const DevKeyID = "dev"

// ErrConfig reports verification configuration that must stop start-up
var ErrConfig = errors.New("invalid verification configuration")

// devSeed derives the bundled development key. It is public by
// construction and must never verify production evidence.
var devSeed = sha256.Sum256([]byte("traceguard development signing key v1"))

// DevSigningKey returns the private half of the bundled development key,
// for signing local test evidence
func DevSigningKey() jose.JSONWebKey {
	priv := ed25519.NewKeyFromSeed(devSeed[:])
	return jose.JSONWebKey{Key: priv, KeyID: DevKeyID, Algorithm: string(jose.EdDSA), Use: "sig"}
}

// KeyStore holds public verification keys by key id. It is filled once at
// start-up; Add is the only mutation.
type KeyStore struct {
	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	development bool
}

// NewKeyStore creates a keystore holding keys
func NewKeyStore(keys ...jose.JSONWebKey) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[string]jose.JSONWebKey)}
	for _, k := range keys {
		if err := ks.Add(k); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// LoadKeyStore builds the keystore from configuration. Outside production
// an empty configuration falls back to the bundled development key unless
// allow_unverified asks for evidence to be recorded without checking.
func LoadKeyStore(cfg model.VerificationConfig, production bool) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[string]jose.JSONWebKey)}

	if cfg.KeysFile != "" {
		keys, err := readKeysFile(cfg.KeysFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		for _, k := range keys {
			if err := ks.Add(k); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrConfig, cfg.KeysFile, err)
			}
		}
	}

	for i, kc := range cfg.Keys {
		k, err := parseKeyConfig(kc)
		if err != nil {
			return nil, fmt.Errorf("%w: verification.keys[%d]: %v", ErrConfig, i, err)
		}
		if err := ks.Add(k); err != nil {
			return nil, fmt.Errorf("%w: verification.keys[%d]: %v", ErrConfig, i, err)
		}
	}

	if ks.Len() == 0 && !production && !cfg.AllowUnverified {
		if err := ks.Add(DevSigningKey()); err != nil {
			return nil, err
		}
		ks.development = true
	}
	return ks, nil
}

// Add registers a key. Private keys are reduced to their public half;
// a key id may only be registered once.
func (ks *KeyStore) Add(k jose.JSONWebKey) error {
	if strings.TrimSpace(k.KeyID) == "" {
		return fmt.Errorf("key has no kid")
	}
	if !k.Valid() {
		return fmt.Errorf("key %s is not a valid JWK", k.KeyID)
	}
	if !k.IsPublic() {
		k = k.Public()
		if !k.Valid() {
			return fmt.Errorf("key %s has no public half", k.KeyID)
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, dup := ks.keys[k.KeyID]; dup {
		return fmt.Errorf("duplicate key id %q", k.KeyID)
	}
	ks.keys[k.KeyID] = k
	return nil
}

// Lookup returns the key for kid. An empty kid matches only when the store
// holds exactly one key.
func (ks *KeyStore) Lookup(kid string) (jose.JSONWebKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if kid == "" && len(ks.keys) == 1 {
		for _, k := range ks.keys {
			return k, true
		}
	}
	k, ok := ks.keys[kid]
	return k, ok
}

// Len returns the number of keys
func (ks *KeyStore) Len() int {
	if ks == nil {
		return 0
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// KeyIDs returns the registered key ids, sorted
func (ks *KeyStore) KeyIDs() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ids := make([]string, 0, len(ks.keys))
	for id := range ks.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Development reports whether the store fell back to the bundled key
func (ks *KeyStore) Development() bool {
	return ks != nil && ks.development
}

// readKeysFile accepts a JWKS document (JSON) or a YAML list of kid/jwk pairs
func readKeysFile(path string) ([]jose.JSONWebKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc struct {
			Keys []model.KeyConfig `yaml:"keys"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse keys file: %w", err)
		}
		keys := make([]jose.JSONWebKey, 0, len(doc.Keys))
		for i, kc := range doc.Keys {
			k, err := parseKeyConfig(kc)
			if err != nil {
				return nil, fmt.Errorf("keys[%d]: %w", i, err)
			}
			keys = append(keys, k)
		}
		return keys, nil
	default:
		var set jose.JSONWebKeySet
		if err := json.Unmarshal(raw, &set); err != nil {
			return nil, fmt.Errorf("parse JWKS: %w", err)
		}
		return set.Keys, nil
	}
}

func parseKeyConfig(kc model.KeyConfig) (jose.JSONWebKey, error) {
	var k jose.JSONWebKey
	if err := k.UnmarshalJSON([]byte(kc.JWK)); err != nil {
		return k, fmt.Errorf("parse jwk: %w", err)
	}
	if kc.KeyID != "" {
		k.KeyID = kc.KeyID
	}
	return k, nil
}
