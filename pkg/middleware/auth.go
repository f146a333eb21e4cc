package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// AuthMiddleware resolves the bearer token into a caller identity.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *observability.Logger
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(verifier TokenVerifier, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// Handler rejects requests without a valid bearer token and places the
// verified identity in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "invalid authorization header format"))
			return
		}

		identity, err := m.verifier.Verify(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("token verification failed")
			httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "invalid token"))
			return
		}

		ctx := WithIdentity(r.Context(), *identity)
		ctx = observability.WithUserID(ctx, identity.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
