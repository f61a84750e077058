package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/keiro/internal/model"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Keyring holds the static client credentials parsed from configuration.
// An empty keyring means authentication is disabled.
type Keyring struct {
	clients map[string]model.Client
}

// ParseKeyring parses a comma-separated list of client_id:role:hash entries,
// where hash is an Argon2id hash as produced by HashAPIKey. Malformed entries,
// unknown roles, bad hash encodings, and duplicate client IDs all fail parsing
// so a typo in the keyring is caught at startup rather than locking a client
// out at request time.
func ParseKeyring(spec string) (*Keyring, error) {
	k := &Keyring{clients: make(map[string]model.Client)}
	if strings.TrimSpace(spec) == "" {
		return k, nil
	}

	for i, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth: keyring entry %d: want client_id:role:hash, got %q", i, entry)
		}
		clientID := parts[0]
		if err := model.ValidateAgentID("client_id", clientID); err != nil {
			return nil, fmt.Errorf("auth: keyring entry %d: %w", i, err)
		}
		role, err := model.ParseRole(parts[1])
		if err != nil {
			return nil, fmt.Errorf("auth: keyring entry %d: %w", i, err)
		}
		if _, _, err := decodeHash(parts[2]); err != nil {
			return nil, fmt.Errorf("auth: keyring entry %d: %w", i, err)
		}
		if _, dup := k.clients[clientID]; dup {
			return nil, fmt.Errorf("auth: keyring entry %d: duplicate client %q", i, clientID)
		}
		k.clients[clientID] = model.Client{ClientID: clientID, Role: role, KeyHash: parts[2]}
	}
	return k, nil
}

// Empty reports whether the keyring holds no clients. A nil keyring is empty.
func (k *Keyring) Empty() bool { return k == nil || len(k.clients) == 0 }

// Len returns the number of configured clients.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.clients)
}

// Verify checks a client's API key against the keyring. An unknown client ID
// still burns one Argon2id pass so response timing does not reveal which
// client IDs exist.
func (k *Keyring) Verify(clientID, apiKey string) (model.Client, bool) {
	if k == nil {
		DummyVerify()
		return model.Client{}, false
	}
	c, ok := k.clients[clientID]
	if !ok {
		DummyVerify()
		return model.Client{}, false
	}
	valid, err := VerifyAPIKey(apiKey, c.KeyHash)
	if err != nil || !valid {
		return model.Client{}, false
	}
	return c, true
}

// HashAPIKey hashes an API key using Argon2id.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyAPIKey checks an API key against an Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, expectedHash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computedHash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1, nil
}

// DummyVerify performs an Argon2id hash with the same cost parameters as real
// verification. Call this on auth failure paths where no real hash was checked,
// so that response timing does not reveal whether a client_id exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// decodeHash splits and decodes a "salt$hash" encoded Argon2id hash.
func decodeHash(encoded string) (salt, hash []byte, err error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("auth: invalid hash format")
	}
	salt, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	hash, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("auth: decode hash: %w", err)
	}
	return salt, hash, nil
}
