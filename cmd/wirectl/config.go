package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/wirectl/internal/server"
	"github.com/danmuck/wirectl/internal/transport"
)

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileSession struct {
	HandshakeTimeout string      `toml:"handshake_timeout"`
	ReadTimeout      string      `toml:"read_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	StatementTimeout string      `toml:"statement_timeout"`
	DrainTimeout     string      `toml:"drain_timeout"`
	Backoff          fileBackoff `toml:"backoff"`
}

type fileConfig struct {
	Name        string                `toml:"name"`
	Addr        string                `toml:"addr"`
	AdminAddr   string                `toml:"admin_addr"`
	CorsOrigins []string              `toml:"cors_origins"`
	Executor    string                `toml:"executor"`
	Runner      string                `toml:"runner"`
	UsersFile   string                `toml:"users_file"`
	Session     fileSession           `toml:"session"`
	Limits      server.Limits         `toml:"limits"`
	Throttle    server.ThrottleConfig `toml:"throttle"`
	Security    transport.Security    `toml:"security"`
}

// loadServerConfig layers the file at path over server.DefaultConfig. Keys
// the file leaves out keep their defaults; unknown keys are rejected.
func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	raw := fileConfig{
		Limits:   cfg.Limits,
		Throttle: cfg.Throttle,
		Security: cfg.Security,
	}
	raw.Session.Backoff.Multiplier = cfg.Session.Backoff.Multiplier
	raw.Session.Backoff.Jitter = cfg.Session.Backoff.Jitter

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return server.Config{}, fmt.Errorf("load server config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("executor") {
		cfg.Executor = strings.ToLower(strings.TrimSpace(raw.Executor))
	}
	if meta.IsDefined("runner") {
		cfg.Runner = strings.ToLower(strings.TrimSpace(raw.Runner))
	}
	if meta.IsDefined("users_file") {
		cfg.UsersFile = resolveRelative(path, raw.UsersFile)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"read_timeout", raw.Session.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
		{"statement_timeout", raw.Session.StatementTimeout, &cfg.Session.StatementTimeout},
		{"drain_timeout", raw.Session.DrainTimeout, &cfg.Session.DrainTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := parseDuration("session."+d.key, d.raw)
		if err != nil {
			return server.Config{}, err
		}
		*d.dst = v
	}

	if meta.IsDefined("session", "backoff", "initial_delay") {
		v, err := parseDuration("session.backoff.initial_delay", raw.Session.Backoff.InitialDelay)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.Backoff.InitialDelay = v
	}
	if meta.IsDefined("session", "backoff", "max_delay") {
		v, err := parseDuration("session.backoff.max_delay", raw.Session.Backoff.MaxDelay)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.Backoff.MaxDelay = v
	}
	cfg.Session.Backoff.Multiplier = raw.Session.Backoff.Multiplier
	cfg.Session.Backoff.Jitter = raw.Session.Backoff.Jitter

	cfg.Limits = raw.Limits
	cfg.Throttle = raw.Throttle
	cfg.Security = raw.Security

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// resolveRelative resolves target against the directory holding the config
// file so users_file works regardless of the working directory.
func resolveRelative(configPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
