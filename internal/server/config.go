package server

import (
	"fmt"
	"strings"

	"github.com/danmuck/wirectl/internal/protocol"
	"github.com/danmuck/wirectl/internal/session"
	"github.com/danmuck/wirectl/internal/transport"
)

const (
	ExecutorDeferred = "deferred"
	ExecutorInline   = "inline"

	RunnerEcho = "echo"
	RunnerKV   = "kv"
)

type Limits struct {
	MaxPayloadBytes   uint64 `toml:"max_payload_bytes"`
	MaxAuthBytes      uint64 `toml:"max_auth_bytes"`
	OutputBufferBytes int    `toml:"output_buffer_bytes"`
	ReadBufferBytes   int    `toml:"read_buffer_bytes"`
	MaxConnections    int    `toml:"max_connections"`
}

// ThrottleConfig configures the per-connection read gate. Zero values
// disable the matching gate.
type ThrottleConfig struct {
	BytesPerSecond int `toml:"bytes_per_second"`
	BurstBytes     int `toml:"burst_bytes"`
	BacklogHigh    int `toml:"backlog_high"`
	BacklogLow     int `toml:"backlog_low"`
}

type Config struct {
	Name        string             `toml:"name"`
	Addr        string             `toml:"addr"`
	AdminAddr   string             `toml:"admin_addr"`
	CorsOrigins []string           `toml:"cors_origins"`
	Executor    string             `toml:"executor"`
	Runner      string             `toml:"runner"`
	UsersFile   string             `toml:"users_file"`
	Session     session.Config     `toml:"session"`
	Limits      Limits             `toml:"limits"`
	Throttle    ThrottleConfig     `toml:"throttle"`
	Security    transport.Security `toml:"security"`
}

func DefaultConfig() Config {
	limits := protocol.DefaultLimits()
	return Config{
		Name:        "wirectl",
		Addr:        ":7687",
		AdminAddr:   ":7688",
		CorsOrigins: []string{"http://localhost:3000"},
		Executor:    ExecutorDeferred,
		Runner:      RunnerEcho,
		Session:     session.DefaultConfig(),
		Limits: Limits{
			MaxPayloadBytes:   limits.MaxPayloadBytes,
			MaxAuthBytes:      limits.MaxAuthBytes,
			OutputBufferBytes: 8 << 10,
			ReadBufferBytes:   32 << 10,
		},
		Throttle: ThrottleConfig{
			BacklogHigh: 64,
			BacklogLow:  16,
		},
		Security: transport.Security{Mode: transport.SecurityModeDevelopment},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	switch strings.ToLower(strings.TrimSpace(c.Executor)) {
	case ExecutorDeferred, ExecutorInline:
	default:
		return fmt.Errorf("server config executor must be %q or %q, got %q", ExecutorDeferred, ExecutorInline, c.Executor)
	}
	switch strings.ToLower(strings.TrimSpace(c.Runner)) {
	case "", RunnerEcho, RunnerKV:
	default:
		return fmt.Errorf("server config runner must be %q or %q, got %q", RunnerEcho, RunnerKV, c.Runner)
	}
	if c.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("server config limits.max_payload_bytes must be positive")
	}
	if c.Limits.ReadBufferBytes <= 0 {
		return fmt.Errorf("server config limits.read_buffer_bytes must be positive")
	}
	if c.Throttle.BacklogHigh > 0 && c.Throttle.BacklogLow >= c.Throttle.BacklogHigh {
		return fmt.Errorf("server config throttle.backlog_low must be below backlog_high")
	}
	if err := c.Security.ValidateServer(); err != nil {
		return err
	}
	return nil
}

func (c Config) protocolLimits() protocol.Limits {
	return protocol.Limits{MaxPayloadBytes: c.Limits.MaxPayloadBytes, MaxAuthBytes: c.Limits.MaxAuthBytes}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
