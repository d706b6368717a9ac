package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, err := m.Generate("operator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Username != "operator" {
		t.Fatalf("unexpected username %q", claims.Username)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewManager("secret-a", time.Hour).Generate("operator")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("secret-b", time.Hour).Parse(tok); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestParseRejectsForeignAlgorithm(t *testing.T) {
	m := NewManager("secret", time.Hour)
	// same key, different signing method: must not validate
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{
		Username: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok, err := foreign.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Parse(tok); err == nil {
		t.Fatalf("expected algorithm rejection")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	m := NewManager("secret", -time.Minute)
	tok, err := m.Generate("operator")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Parse(tok); err == nil {
		t.Fatalf("expected expiry rejection")
	}
}
