package jwt

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type validateOptions struct {
	withAuthorizedParty string
}

func validateDefaults() validateOptions {
	return validateOptions{}
}

func getValidateOpts(opt ...Option) validateOptions {
	opts := validateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithAuthorizedParty requires the "azp" claim to be present and equal to
// clientID. Keycloak access tokens name the client they were issued to in
// azp, while their aud is often just "account".
func WithAuthorizedParty(clientID string) Option {
	return func(o interface{}) {
		if v, ok := o.(*validateOptions); ok {
			v.withAuthorizedParty = clientID
		}
	}
}
