package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesWorkstationTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueWorkstationToken(" istasyon-1 ")
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
	if claims.Subject != "istasyon-1" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != DefaultAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, _, err := issuer.IssueWorkstationToken("istasyon-2")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "istasyon-2" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return issuedAt })
	tokenString, _, err := issuer.IssueWorkstationToken("istasyon-3")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	later := newTestIssuer(t, func() time.Time { return issuedAt.Add(time.Hour) })
	if _, err := later.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	foreign, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return issuedAt },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := foreign.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestTokenIssuerRequiresWorkstation(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	if _, _, err := issuer.IssueWorkstationToken("  "); err == nil {
		t.Fatalf("expected error for empty workstation")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenIssuerConfig
	}{
		{name: "secret", cfg: TokenIssuerConfig{Issuer: DefaultIssuer, Audience: DefaultAudience, TokenTTL: time.Minute}},
		{name: "issuer", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Audience: DefaultAudience, TokenTTL: time.Minute}},
		{name: "audience", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: DefaultIssuer, Audience: " ", TokenTTL: time.Minute}},
		{name: "ttl", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: DefaultIssuer, Audience: DefaultAudience}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tt.cfg); err == nil {
				t.Fatalf("expected error for missing %s", tt.name)
			}
		})
	}
}
