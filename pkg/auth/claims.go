// Package auth validates the bearer tokens that gate the rules API and the
// MCP endpoint. Tokens are JWTs signed by the identity provider and checked
// against its JWKS; the project claim scopes every request to one tenant.
package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	// ClaimsKey is the context key for the validated claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for the raw bearer token.
	TokenKey contextKey = "token"
)

// Project roles carried in the "roles" claim.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleViewer   = "viewer"
)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string   `json:"pid,omitempty"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// HasRole reports whether the claims carry any of roles. Admin implies all.
func (c *Claims) HasRole(roles ...string) bool {
	if c == nil {
		return false
	}
	if slices.Contains(c.Roles, RoleAdmin) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(c.Roles, r) {
			return true
		}
	}
	return false
}

// Actor is the name recorded on reviews, resolutions and uploads.
func (c *Claims) Actor() string {
	if c == nil {
		return ""
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// WithClaims returns ctx carrying claims and the token they came from.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetClaims returns the claims stored by WithClaims.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok && claims != nil
}

// GetToken returns the raw bearer token stored by WithClaims.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// ActorFromContext returns the caller's actor name, or "" when the request
// is unauthenticated.
func ActorFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok {
		return ""
	}
	return claims.Actor()
}

// ProjectIDFromContext parses the project claim. Returns uuid.Nil and false
// when it is missing or not a UUID.
func ProjectIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims.ProjectID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.ProjectID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
