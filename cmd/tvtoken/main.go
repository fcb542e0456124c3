// Command tvtoken mints ThreatVeil API tokens for operators. The signing
// secret comes from JWT_SECRET, matching the server's configuration.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/threatveil/threatveil/internal/auth"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	subject := flag.String("subject", "", "token subject, e.g. an operator name (required)")
	scope := flag.String("scope", auth.ScopeInternal, "token scope")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "token lifetime, e.g. 24h or 30m")
	flag.Parse()

	if *subject == "" {
		flag.Usage()
		return fmt.Errorf("-subject is required")
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	mgr, err := auth.NewManager(secret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET must be set: %w", err)
	}

	token, expiresAt, err := mgr.Issue(*subject, *scope, *ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "subject=%s scope=%s expires=%s\n",
		*subject, *scope, expiresAt.UTC().Format(time.RFC3339))
	return nil
}
