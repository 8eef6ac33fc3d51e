package testhelpers

import (
	"encoding/base64"
	"encoding/json"
)

// TestAudience is the audience the test tokens are minted for.
const TestAudience = "sop-rules-engine"

// GenerateTestJWT returns an unsigned (alg=none) token accepted when
// verification is disabled. roles populates the "roles" claim.
func GenerateTestJWT(sub, projectID, email string, roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	claims := map[string]any{
		"sub": sub,
		"aud": TestAudience,
	}
	if projectID != "" {
		claims["pid"] = projectID
	}
	if email != "" {
		claims["email"] = email
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	payload, _ := json.Marshal(claims)

	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

// GenerateTestJWTWithBearer returns the token as an Authorization header value.
func GenerateTestJWTWithBearer(sub, projectID, email string, roles ...string) string {
	return "Bearer " + GenerateTestJWT(sub, projectID, email, roles...)
}
