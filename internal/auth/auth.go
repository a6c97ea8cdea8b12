// Package auth provides API-key generation, hashing, and request context plumbing.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefixTag is the leading tag of every gateway API key.
const KeyPrefixTag = "LKG"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userIDContextKey contextKey = "user_id"

// GenerateKey produces a fresh API key. It returns the full plaintext
// (shown to the caller exactly once), the short display prefix, and the
// one-way hash that is stored.
func GenerateKey() (plaintext, prefix, hash string, err error) {
	prefixBytes := make([]byte, 4)
	if _, err = rand.Read(prefixBytes); err != nil {
		return "", "", "", fmt.Errorf("generate key prefix: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err = rand.Read(secretBytes); err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}

	prefix = hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)
	plaintext = fmt.Sprintf("%s_%s_%s", KeyPrefixTag, prefix, secret)
	return plaintext, prefix, HashKey(plaintext), nil
}

// HashKey returns the hex-encoded SHA-256 of the full plaintext key.
// Keys are high-entropy random secrets, so an unsalted lookup hash is
// sufficient and keeps authentication a single indexed query.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// LooksLikeKey reports whether a presented string has the gateway key shape.
func LooksLikeKey(s string) bool {
	return strings.HasPrefix(s, KeyPrefixTag+"_") && strings.Count(s, "_") >= 2
}

// HashEqual performs constant-time comparison of two key hashes.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// UserIDFromContext retrieves the authenticated user id from the context.
// Returns empty string if none is set.
func UserIDFromContext(ctx context.Context) string {
	id, ok := ctx.Value(userIDContextKey).(string)
	if !ok {
		return ""
	}
	return id
}

// WithUserID returns a new context with the authenticated user id set.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}
