package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/pkg/response"
)

type contextKey string

const IdentityKey contextKey = "identity"

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

// BearerToken extracts the credential from the Authorization header. Browser
// websocket clients cannot set headers, so a token query parameter is
// accepted as well.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(resolver IdentityResolver, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				response.Unauthorized(w, "Missing or malformed authorization header")
				return
			}

			identity, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidCredential) {
					response.Unauthorized(w, "Invalid or expired token")
					return
				}
				log.Error(r.Context(), "identity resolution failed", "error", err)
				response.InternalError(w, "Failed to resolve identity")
				return
			}

			setRequestUser(r.Context(), identity.Username)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity returns the authenticated actor, or nil outside AuthMiddleware.
func GetIdentity(r *http.Request) *domain.Identity {
	identity, ok := r.Context().Value(IdentityKey).(*domain.Identity)
	if !ok {
		return nil
	}
	return identity
}
