package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/wirectl/internal/auth"
)

// UsersConfig is the credential table file.
type UsersConfig struct {
	Users []UserEntry `toml:"users"`
}

type UserEntry struct {
	Name  string `toml:"name"`
	Token string `toml:"token"`
}

func LoadUsers(path string) (UsersConfig, error) {
	var cfg UsersConfig
	if err := loadToml(path, &cfg); err != nil {
		return UsersConfig{}, err
	}
	if err := ValidateUsers(cfg); err != nil {
		return UsersConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateUsers(cfg UsersConfig) error {
	seen := make(map[string]struct{}, len(cfg.Users))
	for i, u := range cfg.Users {
		if err := ValidateUserEntry(u); err != nil {
			return fmt.Errorf("users[%d] invalid: %w", i, err)
		}
		name := strings.TrimSpace(u.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("users[%d] invalid: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func ValidateUserEntry(u UserEntry) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if u.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

func (c UsersConfig) Map() map[string]string {
	out := make(map[string]string, len(c.Users))
	for _, u := range c.Users {
		out[strings.TrimSpace(u.Name)] = u.Token
	}
	return out
}

func (c UsersConfig) Table() *auth.UserTable {
	return auth.NewUserTable(c.Map())
}
