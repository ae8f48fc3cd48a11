package models

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultTokenBytes is the entropy of a token id before encoding.
	DefaultTokenBytes = 72
	// MaxTokenBytes is the largest entropy whose encoding ValidTokenID accepts.
	MaxTokenBytes = 768
	// DefaultTokenLifetime bounds a redirect round trip.
	DefaultTokenLifetime = 10 * time.Second
)

var maxTokenIDLen = base64.RawURLEncoding.EncodedLen(MaxTokenBytes)

// TokenStore holds identities behind single-use, time-bounded opaque ids.
//
// Error Contract:
//   - Consume returns sentinel.ErrNotFound for ids that never existed, were
//     already consumed, or expired. The three cases are indistinguishable.
//   - Any other error is an infrastructure failure.
type TokenStore interface {
	Create(ctx context.Context, identity Identity, lifetime time.Duration) (string, error)
	Consume(ctx context.Context, id string) (Identity, error)
}

// Token is a live exchange token as held by a store.
type Token struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the token deadline has passed at now.
func (t Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// NewTokenID returns a base64url (unpadded) rendering of n random bytes.
// n <= 0 selects DefaultTokenBytes; n above MaxTokenBytes is an error.
func NewTokenID(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	if n > MaxTokenBytes {
		return "", fmt.Errorf("token id of %d bytes exceeds %d", n, MaxTokenBytes)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidTokenID reports whether s could have been produced by NewTokenID.
// Lookups of malformed ids are rejected before reaching a store.
func ValidTokenID(s string) bool {
	if s == "" || len(s) > maxTokenIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// LifetimeOrDefault normalizes a requested lifetime.
func LifetimeOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTokenLifetime
	}
	return d
}
