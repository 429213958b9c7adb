package oidc

import "time"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: Config, Tk and Req.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withNowFunc = now
		case *tokenOptions:
			v.withNowFunc = now
		case *reqOptions:
			v.withNowFunc = now
		}
	}
}

// WithScopes provides an optional list of scopes for: Config and Req. The
// required "openid" scope is always added, so it doesn't need to be part of
// this list.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *reqOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for: Config and Req.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAudiences = auds
		case *reqOptions:
			v.withAudiences = auds
		}
	}
}
