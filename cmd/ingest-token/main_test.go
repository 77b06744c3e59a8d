package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/tracon-scope/internal/auth"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "wx", want: "wx:ingest"},
		{in: "tais", want: "flightrules:ingest"},
		{in: "all,wx", want: "wx:ingest,flightrules:ingest"},
		{in: " flightrules:ingest , WX ", want: "flightrules:ingest,wx:ingest"},
		{in: "", wantErr: true},
		{in: "metar", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseScopes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(got, ",") != tt.want {
				t.Errorf("scopes = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestMintAndVerify(t *testing.T) {
	svc := auth.NewService(auth.Config{JWTSecret: "test-secret", BCryptCost: bcrypt.MinCost})

	var out bytes.Buffer
	if err := printToken(&out, svc, "itws-bridge", "all"); err != nil {
		t.Fatalf("printToken failed: %v", err)
	}
	token := strings.TrimSpace(out.String())

	out.Reset()
	if err := printClaims(&out, svc, token); err != nil {
		t.Fatalf("printClaims failed: %v", err)
	}
	if !strings.Contains(out.String(), "processor: itws-bridge") ||
		!strings.Contains(out.String(), "scopes:    wx:ingest, flightrules:ingest") {
		t.Errorf("claims output = %q", out.String())
	}

	t.Run("Token from another secret is rejected", func(t *testing.T) {
		other := auth.NewService(auth.Config{JWTSecret: "other"})
		if err := printClaims(&out, other, token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("Minting needs a secret", func(t *testing.T) {
		if err := printToken(&out, auth.NewService(auth.Config{}), "x", "wx"); err == nil {
			t.Error("expected error without a secret")
		}
	})
}

func TestPrintHash(t *testing.T) {
	svc := auth.NewService(auth.Config{BCryptCost: bcrypt.MinCost})
	var out bytes.Buffer
	if err := printHash(&out, svc, "wx-secret"); err != nil {
		t.Fatalf("printHash failed: %v", err)
	}
	token := auth.StaticToken{Hash: strings.TrimSpace(out.String())}
	if !token.Matches("wx-secret") || token.Matches("nope") {
		t.Error("hash does not match its token")
	}
}
