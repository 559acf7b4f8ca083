package config

import (
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/options"
)

// Config is the running configuration of the saiversed daemon.
type Config struct {
	*options.Options
}

// CreateConfigFromOptions builds a running configuration from completed
// and validated options.
func CreateConfigFromOptions(opts *options.Options) (*Config, error) {
	if err := opts.Complete(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Config{opts}, nil
}
