package auth

import (
	"context"
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		TokenTTL:      10 * time.Minute,
	})

	token, expiresIn, err := issuer.IssueToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if expiresIn != 600 {
		t.Fatalf("expected 600s expiry, got %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("expected subject alice, got %q", subject)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-a")})
	other := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-b")})

	token, _, err := issuer.IssueToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail under a different secret")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued },
	})

	token, _, err := issuer.IssueToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	late := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Clock:         func() time.Time { return issued.Add(2 * time.Minute) },
	})
	if _, err := late.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail after expiry")
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("unit-test-secret")})
	if _, _, err := issuer.IssueToken(context.Background(), "   "); err == nil {
		t.Fatal("expected blank subject to be rejected")
	}
}
