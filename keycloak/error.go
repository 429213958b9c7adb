package keycloak

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNotInitialized   = errors.New("client is not initialized")
	ErrInvalidToken     = errors.New("invalid access token")
)

// AuthError is the error passed to OnAuthError when the realm answered the
// authentication request with an error response.
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
