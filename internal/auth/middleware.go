package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/memos-platform/memos/internal/api"
)

type contextKey string

const principalKey contextKey = "principal"

// APIKeyHeader carries a memos_<prefix>_<secret> key.
const APIKeyHeader = "X-API-Key"

// Middleware authenticates a request by API key or Supabase bearer token.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(APIKeyHeader); key != "" {
				p, err := svc.AuthenticateAPIKey(r.Context(), key)
				if err != nil {
					if !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrKeyMismatch) && !errors.Is(err, ErrMalformedKey) {
						slog.Error("authenticating api key", "error", err)
						api.HandleError(w, api.ErrInternalServer)
						return
					}
					api.HandleError(w, api.ErrInvalidAPIKey)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			p, err := svc.AuthenticateToken(parts[1])
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// OwnerID returns the authenticated owner id, or "" for anonymous requests.
func OwnerID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.OwnerID
	}
	return ""
}
