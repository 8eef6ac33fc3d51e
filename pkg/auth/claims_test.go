package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestClaims_HasRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  []string
		ok    bool
	}{
		{"reviewer", []string{RoleReviewer}, []string{RoleReviewer}, true},
		{"admin implies all", []string{RoleAdmin}, []string{RoleReviewer}, true},
		{"viewer lacks reviewer", []string{RoleViewer}, []string{RoleReviewer}, false},
		{"any of", []string{RoleViewer}, []string{RoleReviewer, RoleViewer}, true},
		{"no roles", nil, []string{RoleViewer}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{Roles: tt.roles}
			if got := c.HasRole(tt.want...); got != tt.ok {
				t.Errorf("HasRole(%v) = %v, want %v", tt.want, got, tt.ok)
			}
		})
	}

	var nilClaims *Claims
	if nilClaims.HasRole(RoleViewer) {
		t.Error("nil claims must not have roles")
	}
}

func TestClaims_Actor(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	if got := c.Actor(); got != "user-1" {
		t.Errorf("Actor() = %q, want subject", got)
	}
	c.Email = "coder@clinic.example"
	if got := c.Actor(); got != "coder@clinic.example" {
		t.Errorf("Actor() = %q, want email", got)
	}
}

func TestWithClaims_RoundTrip(t *testing.T) {
	projectID := uuid.New()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		ProjectID:        projectID.String(),
		Email:            "coder@clinic.example",
	}
	ctx := WithClaims(context.Background(), claims, "raw-token")

	got, ok := GetClaims(ctx)
	if !ok || got != claims {
		t.Fatalf("GetClaims() = %v, %v", got, ok)
	}
	if token, ok := GetToken(ctx); !ok || token != "raw-token" {
		t.Errorf("GetToken() = %q, %v", token, ok)
	}
	if actor := ActorFromContext(ctx); actor != "coder@clinic.example" {
		t.Errorf("ActorFromContext() = %q", actor)
	}
	if id, ok := ProjectIDFromContext(ctx); !ok || id != projectID {
		t.Errorf("ProjectIDFromContext() = %v, %v", id, ok)
	}
}

func TestContextHelpers_Missing(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetClaims(ctx); ok {
		t.Error("expected no claims")
	}
	if _, ok := GetToken(ctx); ok {
		t.Error("expected no token")
	}
	if actor := ActorFromContext(ctx); actor != "" {
		t.Errorf("ActorFromContext() = %q, want empty", actor)
	}

	bad := WithClaims(ctx, &Claims{ProjectID: "not-a-uuid"}, "t")
	if _, ok := ProjectIDFromContext(bad); ok {
		t.Error("expected invalid project ID to be rejected")
	}
}
