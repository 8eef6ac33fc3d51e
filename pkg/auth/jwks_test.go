package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// unsignedToken builds an alg=none token for the unverified mode.
func unsignedToken(t *testing.T, claims *Claims) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

func newDevClient(t *testing.T, audience string) *JWKSClient {
	t.Helper()
	client, err := NewJWKSClient(&JWKSConfig{Audience: audience})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestJWKSClient_DevModeParsesClaims(t *testing.T) {
	client := newDevClient(t, "sop-rules-engine")

	token := unsignedToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user-123",
			Issuer:   "https://auth.example.com",
			Audience: jwt.ClaimStrings{"sop-rules-engine"},
		},
		ProjectID: "project-123",
		Email:     "coder@clinic.example",
		Roles:     []string{RoleReviewer},
	})

	claims, err := client.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "user-123" || claims.ProjectID != "project-123" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Email != "coder@clinic.example" {
		t.Errorf("Email = %q", claims.Email)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleReviewer {
		t.Errorf("Roles = %v", claims.Roles)
	}
}

func TestJWKSClient_Audience(t *testing.T) {
	tests := []struct {
		name     string
		audience jwt.ClaimStrings
		wantErr  bool
	}{
		{"matching", jwt.ClaimStrings{"other", "sop-rules-engine"}, false},
		{"wrong", jwt.ClaimStrings{"other-service"}, true},
		{"missing", nil, true},
	}
	client := newDevClient(t, "sop-rules-engine")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := unsignedToken(t, &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Audience: tt.audience},
				ProjectID:        "p",
			})
			_, err := client.ValidateToken(context.Background(), token)
			if tt.wantErr && !errors.Is(err, ErrInvalidAudience) {
				t.Errorf("expected ErrInvalidAudience, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	open := newDevClient(t, "")
	token := unsignedToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	if _, err := open.ValidateToken(context.Background(), token); err != nil {
		t.Errorf("empty audience config should skip the check: %v", err)
	}
}

func TestJWKSClient_MalformedTokens(t *testing.T) {
	client := newDevClient(t, "")
	for _, token := range []string{"", "not-a-jwt", "a.b.c", "!!!.@@@.###"} {
		if _, err := client.ValidateToken(context.Background(), token); err == nil {
			t.Errorf("expected error for %q", token)
		}
	}
}

func TestJWKSClient_VerifiedRejectsUnknownIssuer(t *testing.T) {
	client := &JWKSClient{
		config: &JWKSConfig{EnableVerification: true},
		cancel: func() {},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://evil.example.com"},
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.ValidateToken(context.Background(), signed); err == nil {
		t.Error("expected HS256 token to be rejected")
	}
	client.Close()
	client.Close()
}
