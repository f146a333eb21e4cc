// Package middleware provides the request-level concerns shared by all
// API handlers: caller identity from bearer tokens and per-caller rate
// limiting.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Identity is the authenticated caller.
type Identity struct {
	UID   string
	Email string
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches the caller identity to a context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller identity; ok is false when the
// request was not authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ErrInvalidToken covers every way a bearer token can fail to verify.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// HMACTokenVerifier verifies tokens of the form
// base64url(uid).base64url(email).base64url(hmac-sha256(secret, uid.email)).
type HMACTokenVerifier struct {
	secret []byte
}

// NewHMACTokenVerifier creates a verifier for the given signing secret.
func NewHMACTokenVerifier(secret string) *HMACTokenVerifier {
	return &HMACTokenVerifier{secret: []byte(secret)}
}

// IssueToken signs an identity into a bearer token.
func (v *HMACTokenVerifier) IssueToken(id Identity) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(id.UID)) + "." +
		enc.EncodeToString([]byte(id.Email)) + "." +
		enc.EncodeToString(v.sign(id.UID, id.Email))
}

// Verify checks the token signature and returns the embedded identity.
func (v *HMACTokenVerifier) Verify(token string) (*Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	enc := base64.RawURLEncoding
	uid, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	email, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal(sig, v.sign(string(uid), string(email))) {
		return nil, ErrInvalidToken
	}
	if len(uid) == 0 {
		return nil, ErrInvalidToken
	}
	return &Identity{UID: string(uid), Email: string(email)}, nil
}

func (v *HMACTokenVerifier) sign(uid, email string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(uid))
	mac.Write([]byte("."))
	mac.Write([]byte(email))
	return mac.Sum(nil)
}
