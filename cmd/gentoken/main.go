// Package main provides a tool to generate service tokens for the control API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/crestline/release-plane/internal/auth"
)

func main() {
	subject := flag.String("subject", "ops", "Subject name embedded in the token")
	scopes := flag.String("scopes", "read", "Comma-separated scopes: read, dispatch, cancel, admin")
	secret := flag.String("secret", "", "JWT secret (or set JWT_SECRET env var)")
	expiry := flag.Duration("expiry", 24*365*time.Hour, "Token expiry duration (default: 1 year)")
	flag.Parse()

	jwtSecret := *secret
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}
	if jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT secret required. Use -secret flag or set JWT_SECRET env var")
		fmt.Fprintln(os.Stderr, "Example: go run ./cmd/gentoken -scopes dispatch,cancel -secret 'your-secret-at-least-32-chars-long'")
		os.Exit(1)
	}
	if len(jwtSecret) < 32 {
		fmt.Fprintln(os.Stderr, "Error: JWT secret must be at least 32 characters")
		os.Exit(1)
	}

	var parsed []auth.Scope
	for _, raw := range strings.Split(*scopes, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		scope := auth.Scope(raw)
		switch scope {
		case auth.ScopeRead, auth.ScopeDispatch, auth.ScopeCancel, auth.ScopeAdmin:
			parsed = append(parsed, scope)
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown scope %q\n", raw)
			os.Exit(1)
		}
	}

	cfg := &auth.Config{
		JWTSecret:   []byte(jwtSecret),
		TokenExpiry: *expiry,
	}

	svc := auth.NewService(cfg, nil)
	token, err := svc.GenerateToken(*subject, parsed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
