package internal

// Option is a functional option for configuring the serve mode.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig sets the serve-mode configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
