package config

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// options is the set of available options
type options struct {
	withFile        string
	withEnvFile     string
	withEnvironment map[string]string
}

func getDefaults() options {
	return options{}
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

// WithFile provides an optional YAML config file.
func WithFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withFile = path
		}
	}
}

// WithEnvFile provides an optional .env file. Variables already in the
// environment take precedence over it.
func WithEnvFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvFile = path
		}
	}
}

// WithEnvironment provides the environment to use instead of the process
// environment.
func WithEnvironment(environ map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvironment = environ
		}
	}
}
