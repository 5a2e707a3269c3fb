package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesBridgeTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueBridgeToken(context.Background(), FrontendSubject)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != FrontendSubject {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != DefaultAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if claims.ID == "" {
		t.Fatalf("expected token id to be set")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueBridgeToken(context.Background(), FrontendSubject)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != FrontendSubject {
		t.Fatalf("unexpected subject %s", subject)
	}

	_, err = issuer.ValidateToken("invalid.token")
	if !errors.Is(err, ErrInvalidBridgeToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignSecret(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := other.IssueBridgeToken(context.Background(), FrontendSubject)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrInvalidBridgeToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestTokenIssuerReportsExpiredTokens(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	now := issuedAt
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueBridgeToken(context.Background(), FrontendSubject)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	now = issuedAt.Add(2 * time.Minute)
	_, err = issuer.ValidateToken(tokenString)
	if !errors.Is(err, ErrExpiredBridgeToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected jwt expiry cause to be preserved, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name    string
		config  TokenIssuerConfig
		wantErr error
	}{
		{
			name:    "missing-secret",
			config:  TokenIssuerConfig{Issuer: DefaultIssuer, Audience: DefaultAudience, TokenTTL: time.Minute},
			wantErr: ErrMissingSigningSecret,
		},
		{
			name:    "missing-issuer",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Audience: DefaultAudience, TokenTTL: time.Minute},
			wantErr: ErrMissingIssuer,
		},
		{
			name:    "blank-audience",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: DefaultIssuer, Audience: " ", TokenTTL: time.Minute},
			wantErr: ErrMissingAudience,
		},
		{
			name:    "zero-ttl",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: DefaultIssuer, Audience: DefaultAudience},
			wantErr: ErrInvalidTokenTTL,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewTokenIssuer(testCase.config)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestGenerateSigningSecret(t *testing.T) {
	first, err := GenerateSigningSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := GenerateSigningSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != signingSecretBytes {
		t.Fatalf("expected %d secret bytes, got %d", signingSecretBytes, len(first))
	}
	if string(first) == string(second) {
		t.Fatalf("expected distinct secrets")
	}
}
