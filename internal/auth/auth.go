// Package auth authenticates external ingest processors. A processor either
// presents a shared token in a header or a JWT bearer token carrying the
// scope of the stream it publishes to.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Ingest scopes carried by bearer tokens.
const (
	ScopeWxIngest          = "wx:ingest"
	ScopeFlightRulesIngest = "flightrules:ingest"
)

// Token headers used by the ingest processors.
const (
	HeaderWxToken   = "X-Wx-Token"
	HeaderTaisToken = "X-Tais-Token"
)

const issuer = "tracon-scope"

var (
	// ErrInvalidToken is returned when token validation fails
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnauthorized is returned when no accepted credential was presented
	ErrUnauthorized = errors.New("unauthorized")
)

// Claims are the JWT claims of an ingest processor.
type Claims struct {
	Processor string   `json:"processor"`
	Scopes    []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret     string        // Secret key for signing JWTs; empty disables bearer tokens
	TokenDuration time.Duration // How long minted tokens are valid
	BCryptCost    int           // BCrypt hashing cost
}

// Service mints and validates bearer tokens and hashes static tokens.
type Service struct {
	config Config
}

// NewService creates a new authentication service.
func NewService(cfg Config) *Service {
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 30 * 24 * time.Hour
	}
	return &Service{config: cfg}
}

// BearerEnabled reports whether a signing secret is configured.
func (s *Service) BearerEnabled() bool {
	return s != nil && s.config.JWTSecret != ""
}

// HashToken hashes a static token for storage in the config file.
func (s *Service) HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.config.BCryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateToken mints a bearer token for a processor.
func (s *Service) GenerateToken(processor string, scopes ...string) (string, error) {
	if !s.BearerEnabled() {
		return "", errors.New("no JWT secret configured")
	}
	now := time.Now()
	claims := &Claims{
		Processor: processor,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   processor,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// ValidateToken validates a bearer token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.BearerEnabled() {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// StaticToken is a shared ingest secret, held either in plain text or as a
// bcrypt hash.
type StaticToken struct {
	Plain string
	Hash  string
}

// Configured reports whether the token can match anything.
func (t StaticToken) Configured() bool {
	return t.Plain != "" || t.Hash != ""
}

// Matches compares a presented value against the token.
func (t StaticToken) Matches(presented string) bool {
	if presented == "" {
		return false
	}
	if t.Hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(presented)) == nil
	}
	if t.Plain != "" {
		return subtle.ConstantTimeCompare([]byte(t.Plain), []byte(presented)) == 1
	}
	return false
}

// Guard protects one ingest stream.
type Guard struct {
	// Scope required of bearer tokens
	Scope string

	// Headers are checked in order; the first one present is compared
	Headers []string

	Token  StaticToken
	Bearer *Service
}

// Authorize accepts a bearer token with the guard's scope, or the static
// token in the first present header.
func (g *Guard) Authorize(r *http.Request) error {
	if bearer, ok := bearerToken(r); ok && g.Bearer.BearerEnabled() {
		claims, err := g.Bearer.ValidateToken(bearer)
		if err != nil {
			return err
		}
		if !claims.HasScope(g.Scope) {
			return ErrUnauthorized
		}
		return nil
	}

	if !g.Token.Configured() {
		return ErrUnauthorized
	}
	for _, h := range g.Headers {
		if v := r.Header.Get(h); v != "" {
			if g.Token.Matches(v) {
				return nil
			}
			return ErrUnauthorized
		}
	}
	return ErrUnauthorized
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(h[7:])
	return t, t != ""
}
