package session

import "time"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type storeOptions struct {
	withNowFunc func() time.Time
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeOptions{withNowFunc: time.Now}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithNow provides the clock a store checks request expiry against. It
// should be the auth client's clock (see keycloak.WithNow), which set the
// expiry. A nil func keeps time.Now.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		if v, ok := o.(*storeOptions); ok {
			v.withNowFunc = now
		}
	}
}
