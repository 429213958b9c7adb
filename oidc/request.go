package oidc

import (
	"fmt"
	"time"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// State() is passed throughout the OIDC interactions to uniquely identify the
// flow's request. The State() and Nonce() cannot be equal, and will be used
// during the OIDC flow to prevent CSRF and replay attacks (see OpenID Connect Core
// section 3.1.2.1).
type Request interface {
	// State is a unique identifier and an opaque value used to maintain request
	// between the oidc request and the callback. State cannot equal the Nonce.
	State() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an ID Token, and to mitigate replay attacks. Nonce cannot
	// equal the State.
	Nonce() string

	// IsExpired returns true if the request has expired.
	IsExpired() bool

	// Expiry is the time the request expires.
	Expiry() time.Time

	// RedirectURL is the redirect_uri the provider sends the response to. It
	// must be one of the Config's AllowedRedirectURLs.
	RedirectURL() string

	// PKCEVerifier returns the code verifier when the flow uses PKCE, or nil.
	PKCEVerifier() CodeVerifier

	// Prompts returns the optional prompt values sent with the request.
	Prompts() []Prompt

	// Scopes returns scopes requested in addition to the Config's scopes.
	Scopes() []string

	// Audiences returns audiences an id_token must contain, in addition to
	// the Config's audiences.
	Audiences() []string
}

// Prompt is a string value that specifies whether the Authorization Server
// prompts the End-User for reauthentication and consent.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	// None asks the provider not to display any authentication or consent
	// UI. A silent single sign-on check uses it and expects a
	// login_required error when no session exists.
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

var supportedPrompts = map[Prompt]bool{
	None:          true,
	Login:         true,
	Consent:       true,
	SelectAccount: true,
}

// Req represents the oidc request used for oidc flows and implements the
// Request interface.
type Req struct {
	state      string
	nonce      string
	expiration time.Time

	redirectURL  string
	withVerifier CodeVerifier

	withPrompts   []Prompt
	withScopes    []string
	withAudiences []string

	nowFunc func() time.Time
}

// ensure that Req implements the Request interface
var _ Request = (*Req)(nil)

// NewRequest creates a new Request (*Req).
//
// Supported options: WithState, WithNonce, WithPKCE, WithPrompts, WithScopes,
// WithAudiences, WithNow
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Req, error) {
	const op = "NewRequest"
	opts := getReqOpts(opt...)
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	for _, p := range opts.withPrompts {
		if !supportedPrompts[p] {
			return nil, fmt.Errorf("%s: %q: %w", op, p, ErrUnsupportedPrompt)
		}
	}
	if len(opts.withPrompts) > 1 {
		for _, p := range opts.withPrompts {
			if p == None {
				return nil, fmt.Errorf("%s: prompt %q cannot be combined with other prompts: %w", op, None, ErrInvalidParameter)
			}
		}
	}

	state := opts.withState
	if state == "" {
		var err error
		if state, err = NewID(WithPrefix("st")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
		}
	}
	nonce := opts.withNonce
	if nonce == "" {
		var err error
		if nonce, err = NewID(WithPrefix("n")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
		}
	}
	if state == nonce {
		return nil, fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}

	r := &Req{
		state:         state,
		nonce:         nonce,
		redirectURL:   redirectURL,
		withVerifier:  opts.withVerifier,
		withPrompts:   opts.withPrompts,
		withScopes:    opts.withScopes,
		withAudiences: opts.withAudiences,
		nowFunc:       opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

func (r *Req) State() string       { return r.state }         // State implements the Request.State() interface function.
func (r *Req) Nonce() string       { return r.nonce }         // Nonce implements the Request.Nonce() interface function.
func (r *Req) Expiry() time.Time   { return r.expiration }    // Expiry implements the Request.Expiry() interface function.
func (r *Req) RedirectURL() string { return r.redirectURL }   // RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) Prompts() []Prompt   { return r.withPrompts }   // Prompts implements the Request.Prompts() interface function.
func (r *Req) Scopes() []string    { return r.withScopes }    // Scopes implements the Request.Scopes() interface function.
func (r *Req) Audiences() []string { return r.withAudiences } // Audiences implements the Request.Audiences() interface function.

// PKCEVerifier implements the Request.PKCEVerifier() interface function and
// returns a copy of the CodeVerifier
func (r *Req) PKCEVerifier() CodeVerifier {
	if r.withVerifier == nil {
		return nil
	}
	return r.withVerifier.Copy()
}

// IsSilent reports whether the request is a silent check (prompt=none).
func IsSilent(r Request) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Prompts() {
		if p == None {
			return true
		}
	}
	return false
}

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// IsExpired returns true if the request has expired. Implements the
// Request.IsExpired() interface function.
func (r *Req) IsExpired() bool {
	return r.expiration.Before(r.now().Add(DefaultRequestExpirySkew))
}

// now returns the current time using the optional timeFn
func (r *Req) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reqOptions is the set of available options for Req functions
type reqOptions struct {
	withState     string
	withNonce     string
	withVerifier  CodeVerifier
	withPrompts   []Prompt
	withScopes    []string
	withAudiences []string
	withNowFunc   func() time.Time
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState provides an optional state for the request, which is how a
// persisted request is rebuilt. A new state is generated when not provided.
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withState = s
		}
	}
}

// WithNonce provides an optional nonce for the request. A new nonce is
// generated when not provided.
func WithNonce(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNonce = n
		}
	}
}

// WithPKCE provides an option to use a CodeVerifier with the authorization
// code flow.
//
// See: https://tools.ietf.org/html/rfc7636
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithPrompts provides optional prompt values for the request. None cannot
// be combined with any other prompt.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withPrompts = prompts
		}
	}
}
