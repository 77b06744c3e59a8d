package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/unklstewy/tracon-scope/internal/auth"
	"github.com/unklstewy/tracon-scope/pkg/config"
)

// Mints bearer tokens for ingest processors, hashes shared tokens for the
// config file and checks existing bearer tokens.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	processor := flag.String("processor", "", "Processor name to mint a bearer token for")
	scopes := flag.String("scope", "wx", "Comma separated streams: wx, flightrules or all")
	days := flag.Int("days", 30, "Token lifetime in days")
	hash := flag.String("hash", "", "Print the bcrypt hash of a shared token")
	verify := flag.String("verify", "", "Validate a bearer token and print its claims")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc := auth.NewService(auth.Config{
		JWTSecret:     cfg.Ingest.JWTSecret,
		TokenDuration: time.Duration(*days) * 24 * time.Hour,
	})

	switch {
	case *hash != "":
		err = printHash(os.Stdout, svc, *hash)
	case *verify != "":
		err = printClaims(os.Stdout, svc, *verify)
	case *processor != "":
		err = printToken(os.Stdout, svc, *processor, *scopes)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// parseScopes maps stream names to token scopes.
func parseScopes(s string) ([]string, error) {
	var scopes []string
	add := func(scope string) {
		for _, existing := range scopes {
			if existing == scope {
				return
			}
		}
		scopes = append(scopes, scope)
	}

	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "wx", auth.ScopeWxIngest:
			add(auth.ScopeWxIngest)
		case "flightrules", "tais", auth.ScopeFlightRulesIngest:
			add(auth.ScopeFlightRulesIngest)
		case "all":
			add(auth.ScopeWxIngest)
			add(auth.ScopeFlightRulesIngest)
		case "":
		default:
			return nil, fmt.Errorf("unknown scope %q", name)
		}
	}
	if len(scopes) == 0 {
		return nil, errors.New("no scope given")
	}
	return scopes, nil
}

func printToken(w io.Writer, svc *auth.Service, processor, scopeList string) error {
	if !svc.BearerEnabled() {
		return errors.New("ingest.jwt_secret is not set in the configuration")
	}
	scopes, err := parseScopes(scopeList)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(processor, scopes...)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

func printHash(w io.Writer, svc *auth.Service, token string) error {
	h, err := svc.HashToken(token)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}
	fmt.Fprintln(w, h)
	return nil
}

func printClaims(w io.Writer, svc *auth.Service, token string) error {
	claims, err := svc.ValidateToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "processor: %s\n", claims.Processor)
	fmt.Fprintf(w, "scopes:    %s\n", strings.Join(claims.Scopes, ", "))
	if claims.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:   %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
