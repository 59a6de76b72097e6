package srtio

import (
	"fmt"
	"time"
)

const (
	// DefaultBacklog is the listen backlog passed to native Listen when
	// WithBacklog is not supplied.
	DefaultBacklog = 65535
	// DefaultCallTimeout is the conventional per-call future timeout. It is
	// not applied automatically: CallTimeout stays zero ("no timeout")
	// unless WithCallTimeout sets it, e.g. WithCallTimeout(DefaultCallTimeout).
	DefaultCallTimeout = 3000 * time.Millisecond
)

// Config collects every process-visible knob the CORE exposes, assembled
// by functional Options.
type Config struct {
	Port         int
	Address      string
	PollingPeriod time.Duration
	UwaitTimeout time.Duration
	Backlog      int
	CallTimeout  time.Duration
	LogLevel     int

	MaxGoroutines            int
	MaxGoroutineIdleDuration time.Duration
	MinGOMAXPROCS            int
}

func defaultConfig() Config {
	return Config{
		Address: "0.0.0.0",
		Backlog: DefaultBacklog,
	}
}

// Option mutates a Config under construction. Matches the WithXxx
// functional-options convention used throughout this module.
type Option func(cfg *Config) error

// WithPort sets the listener port. Required; must be in 1..65535, checked
// synchronously when the option is applied to a Config, never deferred to
// the Task Runner. NewServer does not re-check a Config's Port.
func WithPort(port int) Option {
	return func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("srtio: port %d outside 1..65535", port)
		}
		cfg.Port = port
		return nil
	}
}

// WithAddress sets the local interface to bind. Default "0.0.0.0".
func WithAddress(addr string) Option {
	return func(cfg *Config) error {
		if addr != "" {
			cfg.Address = addr
		}
		return nil
	}
}

// WithPollingPeriod sets the delay between epoll_uwait polls. Default 0
// (as-soon-as-possible).
func WithPollingPeriod(d time.Duration) Option {
	return func(cfg *Config) error {
		if d >= 0 {
			cfg.PollingPeriod = d
		}
		return nil
	}
}

// WithUwaitTimeout sets the native timeout passed to each epoll_uwait
// call. Default 0.
func WithUwaitTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		if d >= 0 {
			cfg.UwaitTimeout = d
		}
		return nil
	}
}

// WithBacklog sets the listen backlog. Default DefaultBacklog.
func WithBacklog(n int) Option {
	return func(cfg *Config) error {
		if n > 0 {
			cfg.Backlog = n
		}
		return nil
	}
}

// WithCallTimeout sets the default per-call future timeout. Zero disables
// timeouts (the default).
func WithCallTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.CallTimeout = d
		return nil
	}
}

// WithLogLevel records level (0-7, the native library's own log severity
// scale) in Config.LogLevel. Neither NewFacade nor NewServer forwards it to
// the native library; SetNativeLogLevel is what forwards a level.
func WithLogLevel(level int) Option {
	return func(cfg *Config) error {
		if level < 0 || level > 7 {
			return fmt.Errorf("srtio: log level %d outside 0..7", level)
		}
		cfg.LogLevel = level
		return nil
	}
}

// WithMaxGoroutines caps the Async Facade's completion-callback pool.
func WithMaxGoroutines(n int) Option {
	return func(cfg *Config) error {
		if n > 0 {
			cfg.MaxGoroutines = n
		}
		return nil
	}
}

// WithMaxGoroutineIdleDuration sets how long a callback-pool goroutine
// idles before being reaped.
func WithMaxGoroutineIdleDuration(d time.Duration) Option {
	return func(cfg *Config) error {
		if d > 0 {
			cfg.MaxGoroutineIdleDuration = d
		}
		return nil
	}
}

// WithMinGOMAXPROCS wires go.uber.org/automaxprocs's floor, useful in
// constrained container environments.
func WithMinGOMAXPROCS(n int) Option {
	return func(cfg *Config) error {
		cfg.MinGOMAXPROCS = n
		return nil
	}
}

func applyOptions(opts ...Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
