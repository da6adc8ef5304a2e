package poll

import (
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type config struct {
	clock    clockwork.Clock
	logger   zerolog.Logger
	registry *Registry
	observer Observer
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		registry: DefaultRegistry(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %w", i, err)
		}
	}
	return cfg, nil
}

// WithClock sets the clock used for staleness and fetch timestamps. Tests use
// a fake clock to move time forward deterministically.
//
// Default is the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *config) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clock
		return nil
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) error {
		cfg.logger = logger
		return nil
	}
}

// WithRegistry sets the registry an item joins on construction. Passing nil
// keeps the item out of every registry, so no scheduler will ever see it.
//
// Default is DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(cfg *config) error {
		cfg.registry = r
		return nil
	}
}

// WithObserver sets an observer that is told about every completed fetch.
// Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(cfg *config) error {
		cfg.observer = o
		return nil
	}
}
