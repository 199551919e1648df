package executor

import (
	"fmt"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
)

// New creates an executor of the given type.
func New(t Type) (Executor, error) {
	switch t {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", t)
	}
}

// ConfigFromOptions converts run options to an executor configuration.
// Defaults are expected to have been applied already.
func ConfigFromOptions(opts *config.Options) *Config {
	cfg := &Config{
		Name:         opts.Name,
		Type:         Type(opts.Executor),
		VUs:          opts.VUs,
		Duration:     opts.Duration.Std(),
		GracefulStop: opts.GracefulStop.Std(),
	}
	if cfg.Type == "" {
		cfg.Type = TypeRampingVUs
		if len(opts.Stages) == 0 {
			cfg.Type = TypeConstantVUs
		}
	}

	for _, s := range opts.Stages {
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: s.Duration.Std(),
			Target:   s.Target,
			Name:     s.Name,
		})
	}
	return cfg
}
