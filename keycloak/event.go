package keycloak

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/oidc"
)

// Event is an auth client lifecycle event.
type Event string

const (
	OnReady              Event = "onReady"              // the client is initialized
	OnInitError          Event = "onInitError"          // the client failed to initialize
	OnAuthSuccess        Event = "onAuthSuccess"        // a user authenticated
	OnAuthError          Event = "onAuthError"          // an authentication attempt failed
	OnAuthRefreshSuccess Event = "onAuthRefreshSuccess" // tokens were refreshed
	OnAuthRefreshError   Event = "onAuthRefreshError"   // a refresh failed
	OnAuthLogout         Event = "onAuthLogout"         // a user logged out
	OnTokenExpired       Event = "onTokenExpired"       // an access token expired
)

// Events lists every lifecycle event.
var Events = []Event{
	OnReady,
	OnInitError,
	OnAuthSuccess,
	OnAuthError,
	OnAuthRefreshSuccess,
	OnAuthRefreshError,
	OnAuthLogout,
	OnTokenExpired,
}

// Tokens is the token triple issued by the realm. Any field may be empty.
// The fields redact themselves when printed or marshaled.
type Tokens struct {
	Token        oidc.AccessToken  `json:"token,omitempty"`
	RefreshToken oidc.RefreshToken `json:"refreshToken,omitempty"`
	IDToken      oidc.IDToken      `json:"idToken,omitempty"`
}

// TokensOf returns the Tokens of an oidc.Token.
func TokensOf(t oidc.Token) Tokens {
	if t == nil {
		return Tokens{}
	}
	return Tokens{
		Token:        t.AccessToken(),
		RefreshToken: t.RefreshToken(),
		IDToken:      t.IDToken(),
	}
}

// EventFunc is called for every lifecycle event. err is nil unless the
// event reports a failure.
type EventFunc func(ctx context.Context, event Event, err error)

// TokensFunc is called whenever the client obtains new tokens.
type TokensFunc func(ctx context.Context, tokens Tokens)

// LogEvents returns an EventFunc that logs every event.
func LogEvents(logger hclog.Logger) EventFunc {
	return func(_ context.Context, event Event, err error) {
		logger.Debug("onKeycloakEvent", "event", event, "error", err)
	}
}

// LogTokens returns a TokensFunc that logs the (redacted) tokens.
func LogTokens(logger hclog.Logger) TokensFunc {
	return func(_ context.Context, tokens Tokens) {
		logger.Debug("onKeycloakTokens", "tokens", tokens)
	}
}
