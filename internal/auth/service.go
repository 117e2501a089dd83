// Package auth provides token authentication for the control API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors returned by the auth service.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingClaims    = errors.New("missing required claims")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrScopeDenied      = errors.New("token scope does not permit this action")
)

// Scope is an action class a token may be granted.
type Scope string

const (
	// ScopeRead allows viewing runs, stages, artifacts, and releases.
	ScopeRead Scope = "read"
	// ScopeDispatch allows starting manual runs.
	ScopeDispatch Scope = "dispatch"
	// ScopeCancel allows cancelling in-flight runs.
	ScopeCancel Scope = "cancel"
	// ScopeAdmin allows everything, including storing the release token.
	ScopeAdmin Scope = "admin"
)

// Claims represents the validated token claims.
type Claims struct {
	// Subject names the token holder, e.g. "ci-bot".
	Subject string    `json:"sub"`
	Scopes  []Scope   `json:"scopes"`
	Exp     time.Time `json:"exp"`
}

// Allows reports whether the claims grant a scope. Admin implies all scopes.
func (c *Claims) Allows(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service issues and validates service tokens for the control API.
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *slog.Logger
}

// NewService creates a new authentication service.
func NewService(cfg *Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: cfg.TokenExpiry,
		logger:      logger,
	}
}

// GenerateToken creates a signed token for a subject with the given scopes.
func (s *Service) GenerateToken(subject string, scopes []Scope) (string, error) {
	if subject == "" {
		return "", ErrMissingClaims
	}
	if len(scopes) == 0 {
		scopes = []Scope{ScopeRead}
	}

	now := time.Now()
	exp := now.Add(s.tokenExpiry)

	scopeStrings := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrings[i] = string(sc)
	}

	claims := jwt.MapClaims{
		"sub":    subject,
		"scopes": scopeStrings,
		"iat":    now.Unix(),
		"exp":    exp.Unix(),
		"nbf":    now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a token string and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	subject, ok := mapClaims["sub"].(string)
	if !ok || subject == "" {
		return nil, ErrMissingClaims
	}

	var scopes []Scope
	if raw, ok := mapClaims["scopes"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				scopes = append(scopes, Scope(s))
			}
		}
	}

	expFloat, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, ErrMissingClaims
	}

	return &Claims{
		Subject: subject,
		Scopes:  scopes,
		Exp:     time.Unix(int64(expFloat), 0),
	}, nil
}

// RequireScope returns ErrScopeDenied unless the claims grant the scope.
func RequireScope(claims *Claims, scope Scope) error {
	if claims == nil || !claims.Allows(scope) {
		return ErrScopeDenied
	}
	return nil
}

// DispatchKeyPrefix identifies raw dispatch keys, so they are never mistaken
// for bearer tokens.
const DispatchKeyPrefix = "rpl_"

// GenerateDispatchKey generates a raw dispatch key with an identifying
// prefix. The raw key is shown once; only its hash is stored.
func GenerateDispatchKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return DispatchKeyPrefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashDispatchKey creates a SHA256 hash of a dispatch key for storage.
func HashDispatchKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// SecureCompare performs a constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
