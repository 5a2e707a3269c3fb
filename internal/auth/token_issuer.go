package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the issuer claim of bridge tokens.
	DefaultIssuer = "tylex"
	// DefaultAudience is the audience claim of bridge tokens.
	DefaultAudience = "tylex-bridge"
	// FrontendSubject identifies the local web frontend.
	FrontendSubject = "frontend"

	signingSecretBytes = 32
)

var (
	ErrMissingSigningSecret = errors.New("bridge tokens: signing secret must be provided")
	ErrMissingIssuer        = errors.New("bridge tokens: issuer must be provided")
	ErrMissingAudience      = errors.New("bridge tokens: audience must be provided")
	ErrInvalidTokenTTL      = errors.New("bridge tokens: ttl must be positive")
	ErrMissingSubject       = errors.New("bridge tokens: subject claim must be provided")
	ErrInvalidBridgeToken   = errors.New("bridge tokens: invalid token")
	ErrExpiredBridgeToken   = errors.New("bridge tokens: token expired")
)

// TokenIssuerConfig configures the bridge JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 tokens that the local frontend presents to the bridge.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, ErrInvalidTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// GenerateSigningSecret returns a random secret for processes started without one.
func GenerateSigningSecret() ([]byte, error) {
	secret := make([]byte, signingSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("bridge tokens: generate secret: %w", err)
	}
	return secret, nil
}

// IssueBridgeToken produces a signed JWT for subject and its lifetime in seconds.
func (i *TokenIssuer) IssueBridgeToken(_ context.Context, subject string) (string, int64, error) {
	if strings.TrimSpace(subject) == "" {
		return "", 0, ErrMissingSubject
	}

	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", 0, err
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()

	registered := jwt.RegisteredClaims{
		ID:        tokenID.String(),
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  []string{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the bridge JWT is well formed and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrInvalidBridgeToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsed *jwt.Token) (interface{}, error) {
			if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", parsed.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", ErrExpiredBridgeToken, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidBridgeToken, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
