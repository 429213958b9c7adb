package api

import (
	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/internal/metrics"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// options is the set of available options
type options struct {
	withLogger             hclog.Logger
	withMetrics            *metrics.Metrics
	withBaseURL            string
	withTitle              string
	withAdminRole          string
	withProstheticUserRole string
	withRateLimit          float64
	withRateBurst          int
}

func getDefaults() options {
	return options{
		withLogger:    hclog.NewNullLogger(),
		withBaseURL:   "http://localhost:8080",
		withTitle:     "Reports",
		withRateLimit: 5,
		withRateBurst: 10,
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

// WithMetrics provides optional metrics. With them, every request is
// counted and /metrics is served.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMetrics = m
		}
	}
}

// WithBaseURL provides the public URL of the app, where the realm sends the
// browser after logout.
func WithBaseURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && u != "" {
			o.withBaseURL = u
		}
	}
}

// WithTitle provides the page title of the shell.
func WithTitle(title string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && title != "" {
			o.withTitle = title
		}
	}
}

// WithRoles provides the realm roles of administrators and prosthetic
// users. An empty role is held by nobody.
func WithRoles(admin, prostheticUser string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAdminRole = admin
			o.withProstheticUserRole = prostheticUser
		}
	}
}

// WithRateLimit provides the per client rate limit of the login routes.
func WithRateLimit(rps float64, burst int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && rps > 0 && burst > 0 {
			o.withRateLimit = rps
			o.withRateBurst = burst
		}
	}
}
