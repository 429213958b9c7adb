package keycloak

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/oidc"
)

// OnLoad is what the client does when a page loads.
type OnLoad string

const (
	// CheckSSO checks, without prompting, whether the user is signed in.
	CheckSSO OnLoad = "check-sso"

	// LoginRequired sends anonymous users to the login page.
	LoginRequired OnLoad = "login-required"
)

// InitOptions configure the client's behavior.
type InitOptions struct {
	// PKCEMethod is the PKCE challenge method. Only S256 is supported, and
	// an empty method disables PKCE.
	PKCEMethod oidc.ChallengeMethod

	// OnLoad is CheckSSO or LoginRequired.
	OnLoad OnLoad

	// StateTTL is how long a login request stays valid.
	StateTTL time.Duration

	// MinValidity is the remaining access token lifetime below which the
	// tokens are refreshed.
	MinValidity time.Duration
}

// DefaultInitOptions returns the options used when none are given: PKCE
// with S256 and check-sso.
func DefaultInitOptions() InitOptions {
	return InitOptions{
		PKCEMethod:  oidc.S256,
		OnLoad:      CheckSSO,
		StateTTL:    2 * time.Minute,
		MinValidity: 30 * time.Second,
	}
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// clientOptions is the set of available options for Client functions
type clientOptions struct {
	withLogger         hclog.Logger
	withProviderCA     string
	withScopes         []string
	withSigningAlgs    []oidc.Alg
	withEventHandlers  []EventFunc
	withTokensHandlers []TokensFunc
	withInitOptions    InitOptions
	withNowFunc        func() time.Time
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:      hclog.NewNullLogger(),
		withSigningAlgs: []oidc.Alg{oidc.RS256},
		withInitOptions: DefaultInitOptions(),
	}
}

// getClientOpts gets the client defaults and applies the opt overrides
// passed in
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithLogger provides an optional logger for the client.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for talking to
// the realm.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithScopes provides optional scopes to request in addition to openid.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithSigningAlgs provides the realm's token signing algorithms. The
// default is RS256, Keycloak's default.
func WithSigningAlgs(algs ...oidc.Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && len(algs) > 0 {
			o.withSigningAlgs = algs
		}
	}
}

// WithEventHandler registers a lifecycle event hook. Hooks run in the
// order they're registered.
func WithEventHandler(fn EventFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && fn != nil {
			o.withEventHandlers = append(o.withEventHandlers, fn)
		}
	}
}

// WithTokensHandler registers a tokens hook. Hooks run in the order
// they're registered.
func WithTokensHandler(fn TokensFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && fn != nil {
			o.withTokensHandlers = append(o.withTokensHandlers, fn)
		}
	}
}

// WithInitOptions overrides the DefaultInitOptions. Zero durations keep
// their defaults.
func WithInitOptions(init InitOptions) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			d := DefaultInitOptions()
			if init.StateTTL <= 0 {
				init.StateTTL = d.StateTTL
			}
			if init.MinValidity <= 0 {
				init.MinValidity = d.MinValidity
			}
			if init.OnLoad == "" {
				init.OnLoad = d.OnLoad
			}
			o.withInitOptions = init
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withNowFunc = now
		}
	}
}
