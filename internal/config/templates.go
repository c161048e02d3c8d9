package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "users":
		return usersTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "wirectl"
addr = ":7687"
admin_addr = ":7688"
cors_origins = ["http://localhost:3000"]
executor = "deferred"
runner = "echo"
users_file = "users.toml"

[session]
handshake_timeout = "5s"
read_timeout = "5m"
write_timeout = "15s"
statement_timeout = "30s"
drain_timeout = "5s"

[limits]
max_payload_bytes = 8388608
max_auth_bytes = 16384
output_buffer_bytes = 8192

[throttle]
bytes_per_second = 0
burst_bytes = 0
backlog_high = 64
backlog_low = 16

[security]
mode = "development"

[security.tls]
enabled = false
`

const usersTemplate = `[[users]]
name = "neo"
token = "change-me"
`
