package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware wraps handlers with authentication and role checks.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("auth-middleware"),
	}
}

// RequireProject validates the token and matches its project to the path
// value pathParamName (for example "pid" in /api/projects/{pid}/...).
func (m *Middleware) RequireProject(pathParamName string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			if err := m.authService.AuthorizeProject(claims, r.PathValue(pathParamName)); err != nil {
				if errors.Is(err, ErrMissingProjectID) {
					writeAuthError(w, http.StatusBadRequest, "bad_request", "Missing project ID in token")
					return
				}
				writeAuthError(w, http.StatusForbidden, "forbidden", "Project ID mismatch between token and URL")
				return
			}

			next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
		}
	}
}

// RequireRole rejects callers without one of roles. It must run inside
// RequireProject.
func (m *Middleware) RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			if !claims.HasRole(roles...) {
				m.logger.Info("Role check failed",
					zap.String("subject", claims.Subject),
					zap.Strings("required", roles),
					zap.String("path", r.URL.Path))
				writeAuthError(w, http.StatusForbidden, "forbidden", ErrInsufficientRole.Error())
				return
			}
			next(w, r)
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
