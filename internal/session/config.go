package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// Config defines session timeouts.
type Config struct {
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	ReadTimeout      time.Duration `toml:"read_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	StatementTimeout time.Duration `toml:"statement_timeout"`
	DrainTimeout     time.Duration `toml:"drain_timeout"`
	Backoff          BackoffConfig `toml:"backoff"`
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      5 * time.Minute,
		WriteTimeout:     15 * time.Second,
		StatementTimeout: 30 * time.Second,
		DrainTimeout:     5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}
