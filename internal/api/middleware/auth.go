package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/crestline/release-plane/internal/auth"
	"github.com/crestline/release-plane/internal/store"
)

// Context keys for authenticated token information.
type contextKey string

const (
	// SubjectKey is the context key for the authenticated token subject.
	SubjectKey contextKey = "subject"
	// ClaimsKey is the context key for the full token claims.
	ClaimsKey contextKey = "claims"
)

// GetSubject extracts the token subject from the request context.
func GetSubject(ctx context.Context) string {
	if v := ctx.Value(SubjectKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(ClaimsKey); v != nil {
		return v.(*auth.Claims)
	}
	return nil
}

// AuthMiddleware validates bearer tokens and dispatch keys on the control
// API.
type AuthMiddleware struct {
	authService  *auth.Service
	keys         store.DispatchKeyStore
	apiKeyHeader string
	logger       *slog.Logger
}

// NewAuthMiddleware creates a new authentication middleware. keys may be nil
// to disable dispatch key authentication.
func NewAuthMiddleware(authService *auth.Service, keys store.DispatchKeyStore, apiKeyHeader string, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService:  authService,
		keys:         keys,
		apiKeyHeader: apiKeyHeader,
		logger:       logger,
	}
}

// Authenticate validates the Authorization header, or the dispatch key
// header when no bearer token is presented, and stores the claims in the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			claims := m.dispatchKeyClaims(r)
			if claims == nil {
				writeUnauthorized(w, "Missing authentication")
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token validation failed", "error", err)
			if err == auth.ErrExpiredToken {
				writeUnauthorized(w, "Token has expired")
				return
			}
			writeUnauthorized(w, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// dispatchKeyClaims resolves the dispatch key header to the stored key's
// claims. Returns nil when no valid key is presented.
func (m *AuthMiddleware) dispatchKeyClaims(r *http.Request) *auth.Claims {
	if m.keys == nil || m.apiKeyHeader == "" {
		return nil
	}
	raw := r.Header.Get(m.apiKeyHeader)
	if !strings.HasPrefix(raw, auth.DispatchKeyPrefix) {
		return nil
	}

	key, err := m.keys.GetByHash(r.Context(), auth.HashDispatchKey(raw))
	if err != nil {
		m.logger.Debug("dispatch key lookup failed", "error", err)
		return nil
	}
	if err := m.keys.TouchUsed(r.Context(), key.ID); err != nil {
		m.logger.Debug("failed to touch dispatch key", "key_id", key.ID, "error", err)
	}

	scopes := make([]auth.Scope, 0, len(key.Scopes))
	for _, s := range key.Scopes {
		scopes = append(scopes, auth.Scope(s))
	}
	return &auth.Claims{Subject: key.Name, Scopes: scopes}
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, SubjectKey, claims.Subject)
	return context.WithValue(ctx, ClaimsKey, claims)
}

// RequireScope returns a middleware that rejects requests whose token lacks
// the scope. It must run after Authenticate.
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if err := auth.RequireScope(claims, scope); err != nil {
				writeForbidden(w, "Insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"unauthorized","message":"` + escapeJSON(message) + `"}`))
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"code":"forbidden","message":"` + escapeJSON(message) + `"}`))
}

func writeInternalError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"code":"internal_error","message":"` + escapeJSON(message) + `"}`))
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
