package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACTokenRoundTrip(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")

	token := verifier.IssueToken(Identity{UID: "user-123", Email: "user@example.com"})
	require.NotEmpty(t, token)

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", identity.UID)
	assert.Equal(t, "user@example.com", identity.Email)
}

func TestHMACTokenWrongSecret(t *testing.T) {
	issuer := NewHMACTokenVerifier("secret-a")
	verifier := NewHMACTokenVerifier("secret-b")

	token := issuer.IssueToken(Identity{UID: "user-123", Email: "user@example.com"})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACTokenTampered(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")

	token := verifier.IssueToken(Identity{UID: "user-123", Email: "user@example.com"})
	other := verifier.IssueToken(Identity{UID: "user-456", Email: "other@example.com"})

	// Splice the signature of one token onto the payload of another.
	parts := strings.Split(token, ".")
	otherParts := strings.Split(other, ".")
	require.Len(t, parts, 3)
	forged := parts[0] + "." + parts[1] + "." + otherParts[2]

	_, err := verifier.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACTokenMalformed(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")

	for _, token := range []string{"", "abc", "a.b", "a.b.c.d", "!!!.!!!.!!!"} {
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestHMACTokenEmptyUID(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")

	token := verifier.IssueToken(Identity{UID: "", Email: "user@example.com"})
	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)

	ctx = WithIdentity(ctx, Identity{UID: "user-123", Email: "user@example.com"})
	identity, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-123", identity.UID)
}
