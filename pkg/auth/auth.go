// Package auth guards the inspection API with bcrypt-hashed API keys.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidKey = errors.New("invalid api key")

// KeySet holds the hashes of accepted API keys by name
type KeySet struct {
	hashes map[string][]byte
	cost   int
	mu     sync.RWMutex
}

// NewKeySet creates an empty key set hashing with bcrypt.DefaultCost
func NewKeySet() *KeySet {
	return NewKeySetWithCost(bcrypt.DefaultCost)
}

// NewKeySetWithCost creates an empty key set with a custom bcrypt cost
func NewKeySetWithCost(cost int) *KeySet {
	return &KeySet{hashes: make(map[string][]byte), cost: cost}
}

// Add hashes and stores a plaintext key under name
func (k *KeySet) Add(name, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), k.cost)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.hashes[name] = hash
	return nil
}

// AddHash stores an already hashed key under name
func (k *KeySet) AddHash(name, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("api key %s: %w", name, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.hashes[name] = []byte(hash)
	return nil
}

// Validate returns the name of the key matching key
func (k *KeySet) Validate(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	for name, hash := range k.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return name, nil
		}
	}
	return "", ErrInvalidKey
}

// Revoke removes a key by name
func (k *KeySet) Revoke(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.hashes, name)
}

// Len returns the number of configured keys
func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.hashes)
}

// GenerateAPIKey returns a new random key and its bcrypt hash
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return key, string(h), nil
}

// KeyFromRequest extracts a key from the Authorization bearer or X-API-Key header
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// Middleware rejects requests without a valid key. An empty key set
// disables authentication. Paths in public are always allowed.
func Middleware(keys *KeySet, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys == nil || keys.Len() == 0 || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := keys.Validate(KeyFromRequest(r)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="validator"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
