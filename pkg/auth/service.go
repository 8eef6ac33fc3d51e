package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingProjectID     = errors.New("missing project ID in token")
	ErrProjectIDMismatch    = errors.New("project ID mismatch between token and URL")
	ErrInsufficientRole     = errors.New("insufficient role")
)

// AuthService authenticates HTTP requests.
type AuthService interface {
	// ValidateRequest reads the bearer token from the Authorization header
	// and returns its claims together with the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// AuthorizeProject checks that the token carries a project and that it
	// matches urlProjectID when one is given.
	AuthorizeProject(claims *Claims, urlProjectID string) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates an AuthService on top of validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

var _ AuthService = (*authService)(nil)

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		s.logger.Debug("No bearer token",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}
	token = strings.TrimSpace(token)

	claims, err := s.validator.ValidateToken(r.Context(), token)
	if err != nil {
		s.logger.Debug("Token validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, "", err
	}
	return claims, token, nil
}

func (s *authService) AuthorizeProject(claims *Claims, urlProjectID string) error {
	if claims.ProjectID == "" {
		return ErrMissingProjectID
	}
	if urlProjectID != "" && !strings.EqualFold(claims.ProjectID, urlProjectID) {
		s.logger.Warn("Project ID mismatch",
			zap.String("url_project_id", urlProjectID),
			zap.String("token_project_id", claims.ProjectID))
		return ErrProjectIDMismatch
	}
	return nil
}
