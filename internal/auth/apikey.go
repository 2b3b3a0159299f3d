package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyScheme    = "memos"
	apiKeyPrefixLen = 8
	apiKeySecretLen = 32
)

var (
	ErrKeyNotFound  = errors.New("api key not found")
	ErrMalformedKey = errors.New("malformed api key")
	ErrKeyMismatch  = errors.New("api key does not match")
)

// APIKey represents a row in the api_keys table. The secret part of the key
// is only ever stored as a bcrypt hash.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Hash       string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateAPIKeyRequest is used by the API to issue a new key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// CreatedAPIKey is returned once on creation; Key is never retrievable again.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// GenerateAPIKey returns a new key of the form memos_<prefix>_<secret>.
func GenerateAPIKey() (key, prefix, secret string, err error) {
	buf := make([]byte, (apiKeyPrefixLen+apiKeySecretLen)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw := hex.EncodeToString(buf)
	prefix, secret = raw[:apiKeyPrefixLen], raw[apiKeyPrefixLen:]
	return apiKeyScheme + "_" + prefix + "_" + secret, prefix, secret, nil
}

// ParseAPIKey splits a key into its lookup prefix and secret.
func ParseAPIKey(key string) (prefix, secret string, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme ||
		len(parts[1]) != apiKeyPrefixLen || len(parts[2]) != apiKeySecretLen {
		return "", "", ErrMalformedKey
	}
	return parts[1], parts[2], nil
}

func HashSecret(secret string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func CompareSecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrKeyMismatch
	}
	return nil
}

// keyDigest is the fingerprint stored in the verification cache.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
