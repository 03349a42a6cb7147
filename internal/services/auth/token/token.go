// Package token mints and verifies the JWT access and refresh tokens issued
// after a verified passkey ceremony.
package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mate-community/mate/internal/platform/config"
	apperrors "github.com/mate-community/mate/internal/platform/errors"
)

// ErrInvalidToken indicates a token failed signature or claim validation.
var ErrInvalidToken = apperrors.New(apperrors.CodeTokenInvalid, "token is invalid")

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Config controls token issuance.
type Config struct {
	Secret     string        `env:"MATE_TOKEN_SECRET"`
	Issuer     string        `env:"MATE_TOKEN_ISSUER"      envDefault:"mate-auth"`
	AccessTTL  time.Duration `env:"MATE_TOKEN_ACCESS_TTL"  envDefault:"30m"`
	RefreshTTL time.Duration `env:"MATE_TOKEN_REFRESH_TTL" envDefault:"336h"`
}

// LoadConfigFromEnv returns token configuration with defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return Config{}, fmt.Errorf("MATE_TOKEN_SECRET is required")
	}
	return cfg, nil
}

type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// Issuer mints HS256 tokens bound to a user id.
type Issuer struct {
	config Config
	now    func() time.Time
}

// NewIssuer creates a token issuer. A nil clock uses the wall clock.
func NewIssuer(cfg Config, now func() time.Time) (*Issuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{config: cfg, now: now}, nil
}

// MintAccessToken returns a short-lived access token for a user id.
func (i *Issuer) MintAccessToken(userID string) (string, error) {
	return i.mint(userID, KindAccess, i.config.AccessTTL)
}

// MintRefreshToken returns a long-lived refresh token for a user id.
func (i *Issuer) MintRefreshToken(userID string) (string, error) {
	return i.mint(userID, KindRefresh, i.config.RefreshTTL)
}

func (i *Issuer) mint(userID string, kind Kind, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: string(kind),
	})
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify parses a token and returns the subject user id when the signature,
// expiry, issuer, and kind all hold.
func (i *Issuer) Verify(tokenString string, kind Kind) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	},
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeTokenInvalid, "parse token", err)
	}
	tokenClaims, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if tokenClaims.Kind != string(kind) {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(tokenClaims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return tokenClaims.Subject, nil
}
