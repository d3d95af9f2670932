package gitlab

import (
	"errors"
	"fmt"
)

var (
	// High-level backend errors
	ErrBackendNotConfigured = errors.New("backend not configured")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrRotationInProgress   = errors.New("token rotation already in progress")
	ErrGitLabUnavailable    = errors.New("GitLab API unavailable")

	// Role errors
	ErrRoleNotFound     = errors.New("role not found")
	ErrInvalidRole      = errors.New("invalid role")
	ErrUnknownTokenType = errors.New("unknown token type")

	// Token errors
	ErrTokenExpired      = errors.New("active token is expired")
	ErrTokenRevokeFailed = errors.New("token revocation failed")
)

func NewUnknownTokenTypeError(tokenType string) error {
	return fmt.Errorf("%w: '%s' (expected personal, project, or group)", ErrUnknownTokenType, tokenType)
}

func NewRoleNotFoundError(roleName string) error {
	return fmt.Errorf("%w: '%s'", ErrRoleNotFound, roleName)
}
