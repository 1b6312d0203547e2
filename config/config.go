package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iwanhae/ssh-gate/denylist"
)

const envPrefix = "SSHGATE_"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds the server configuration
type Config struct {
	// SSH listen address (host:port)
	Addr string

	// Path to the SSH host private key
	HostKeyPath string

	// Directory holding blacklist.txt and usercache.json (or denylist.db)
	DataDir string

	// Persistence backend: "file" or "sqlite"
	Backend string

	// Maximum simultaneous sessions per IP
	MaxPerIP int

	// Connection attempts allowed per IP per minute; 0 disables throttling
	ConnectionsPerMinute int

	// Identities allowed to run /blacklist
	Operators []string

	// Enable debug logging
	Debug bool
}

// Load reads configuration from SSHGATE_ prefixed environment variables.
func Load() *Config {
	return &Config{
		Addr:                 getEnv("ADDR", ":2222"),
		HostKeyPath:          getEnv("HOST_KEY", "host.key"),
		DataDir:              getEnv("DATA_DIR", "data"),
		Backend:              getEnv("BACKEND", BackendFile),
		MaxPerIP:             getEnvInt("MAX_PER_IP", 2),
		ConnectionsPerMinute: getEnvInt("THROTTLE", 5),
		Operators:            getEnvList("OPERATORS"),
		Debug:                getEnvBool("DEBUG", false),
	}
}

// Validate checks the configuration and returns the parsed operator identities.
func (c *Config) Validate() ([]denylist.Identity, error) {
	if c.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if c.Backend != BackendFile && c.Backend != BackendSQLite {
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendFile, BackendSQLite)
	}
	if c.MaxPerIP < 1 {
		return nil, fmt.Errorf("max-per-ip must be at least 1, got %d", c.MaxPerIP)
	}
	if c.ConnectionsPerMinute < 0 {
		return nil, fmt.Errorf("throttle must not be negative, got %d", c.ConnectionsPerMinute)
	}

	operators := make([]denylist.Identity, 0, len(c.Operators))
	for _, raw := range c.Operators {
		id, err := denylist.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", raw, err)
		}
		operators = append(operators, id)
	}
	return operators, nil
}

// SQLitePath is the database file used by the sqlite backend.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "denylist.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(envPrefix+key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
