package shell

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// options is the set of available options
type options struct {
	withLogger    hclog.Logger
	withLoginPath string
}

func getDefaults() options {
	return options{
		withLogger:    hclog.NewNullLogger(),
		withLoginPath: "/api/login",
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithLoginPath provides the route anonymous users are sent to when login
// is required. Defaults to /api/login.
func WithLoginPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && path != "" {
			o.withLoginPath = path
		}
	}
}
