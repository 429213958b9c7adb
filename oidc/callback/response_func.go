package callback

import (
	"net/http"

	"github.com/protezlab/reportgate/oidc"
)

// SuccessResponseFunc writes the response to a callback whose code was
// exchanged. state is the request's state and t the provider's tokens. The
// func owns the response: cookies, a redirect or a page.
type SuccessResponseFunc func(state string, t oidc.Token, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc writes the response to a failed callback. respErr is set
// when the provider answered with an error, e when handling the callback
// failed. A silent check that found no session arrives as a respErr whose
// Error is "login_required".
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse is the error a provider sends back to the redirect
// URL. See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

// LoginRequired is the error a provider returns to a prompt=none request
// when the user has no session.
const LoginRequired = "login_required"

// IsLoginRequired reports whether the response is a login_required error.
func (r *AuthenErrorResponse) IsLoginRequired() bool {
	return r != nil && r.Error == LoginRequired
}
