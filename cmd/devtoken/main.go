/*
main.go - Development token issuer

PURPOSE:
  Prints a signed Bearer token for local testing with curl or the frontend.
  Reads JWT_SECRET / JWT_ISSUER / JWT_TTL from the environment or .env.

EXAMPLES:
  # Admin token
  ./devtoken -user=ana -role=admin

  # Treasurer of one church
  ./devtoken -user=luis -role=treasurer -church=iglesia-central
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/config"
	"github.com/warp/church-treasury/treasury"
)

func main() {
	user := flag.String("user", "dev", "User ID (token subject)")
	email := flag.String("email", "", "Email claim")
	role := flag.String("role", "admin", "Role: secretary, pastor, treasurer or admin")
	church := flag.String("church", "", "Church ID (required for every role but admin)")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}

	r, ok := auth.ParseRole(*role)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	if r != auth.RoleAdmin && *church == "" {
		fmt.Fprintln(os.Stderr, "-church is required for non-admin roles")
		os.Exit(2)
	}

	token, err := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL).Issue(auth.Identity{
		UserID:   *user,
		Email:    *email,
		Role:     r,
		ChurchID: treasury.ChurchID(*church),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
