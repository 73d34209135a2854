package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upwatch/upwatch/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(&config.AuthConfig{
		AdminUsername:  "admin",
		AdminPassword:  "correct-password",
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		JWTExpiryHours: 1,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(&config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "pw",
		JWTSecret:     "too-short",
	})
	if err == nil {
		t.Error("want error for short jwt secret")
	}
}

func TestLoginAndValidate(t *testing.T) {
	s := newTestService(t)

	resp, err := s.Login("admin", "correct-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
	if time.Until(resp.ExpiresAt) > time.Hour || time.Until(resp.ExpiresAt) < 55*time.Minute {
		t.Errorf("expiry = %v, want ~1h out", resp.ExpiresAt)
	}

	claims, err := s.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("claims username = %q", claims.Username)
	}
	if claims.Issuer != "upwatch" {
		t.Errorf("claims issuer = %q", claims.Issuer)
	}
}

func TestLoginFailures(t *testing.T) {
	s := newTestService(t)

	if _, err := s.Login("root", "correct-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong username: got %v", err)
	}
	if _, err := s.Login("admin", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
}

func TestValidateTokenFailures(t *testing.T) {
	s := newTestService(t)

	if _, err := s.ValidateToken("not-a-token"); err == nil {
		t.Error("garbage token accepted")
	}

	// Token signed with a different secret.
	other, err := NewService(&config.AuthConfig{
		AdminUsername:  "admin",
		AdminPassword:  "correct-password",
		JWTSecret:      "ffffffffffffffffffffffffffffffff",
		JWTExpiryHours: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := other.Login("admin", "correct-password")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(resp.Token); err == nil {
		t.Error("token signed with wrong secret accepted")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	s := newTestService(t)

	claims := &Claims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    "upwatch",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(signed); err == nil {
		t.Error("expired token accepted")
	}
}

func TestValidateRejectsUnexpectedAlg(t *testing.T) {
	s := newTestService(t)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(signed); err == nil {
		t.Error("alg=none token accepted")
	}
}
