// Package daemonconfig loads the daemon's configuration from required
// environment variables, plus an optional on-disk HJSON tuning file
// layered over built-in tuning defaults.
package daemonconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hjson/hjson-go/v4"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	AnthropicAPIKey string
	StreamPort      int
	APIPort         int
	PTYWSPort       int
	StreamHost      string
	DBPath          string
	MaxAgeHours     int
	KittySocket     string
	KittyRCPassword string

	// Tuning overrides loadable from an optional HJSON file, not tied to
	// a required environment variable.
	Tuning Tuning
}

// Tuning holds the subset of knobs a deployment may want to adjust
// without touching the environment: timers the component design treats
// as fixed defaults elsewhere in the spec, exposed here for operators
// who need to tune them per installation.
type Tuning struct {
	WatchDebounceMS  int `json:"watchDebounceMs"`
	RingCapBytes     int `json:"ringCapBytes"`
	// PTYIdleTimeoutMS sets the PTY idle sweeper's period (the sweep runs
	// every sixth of this value); the idle threshold itself is
	// ptybridge.IdleTimeout.
	PTYIdleTimeoutMS int `json:"ptyIdleTimeoutMs"`
	ShutdownTimeoutMS int `json:"shutdownTimeoutMs"`
}

func defaultTuning() Tuning {
	return Tuning{
		WatchDebounceMS:   200,
		RingCapBytes:      20 * 1024 * 1024,
		PTYIdleTimeoutMS:  30 * 60 * 1000,
		ShutdownTimeoutMS: 5000,
	}
}

// Load resolves Config from the environment, erroring if
// ANTHROPIC_API_KEY is unset. tuningFilePath, if non-empty and present
// on disk, is parsed as HJSON and merged over the defaults.
func Load(tuningFilePath string) (Config, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return Config{}, fmt.Errorf("daemonconfig: ANTHROPIC_API_KEY is required")
	}

	cfg := Config{
		AnthropicAPIKey: apiKey,
		StreamPort:      envInt("MIMESIS_PORT", envInt("PORT", 4450)),
		APIPort:         envInt("API_PORT", 4451),
		PTYWSPort:       envInt("PTY_WS_PORT", 4452),
		StreamHost:      envString("STREAM_HOST", "127.0.0.1"),
		DBPath:          envString("DB_PATH", defaultDBPath()),
		MaxAgeHours:     envInt("MAX_AGE_HOURS", 24),
		KittySocket:     os.Getenv("KITTY_SOCKET"),
		KittyRCPassword: os.Getenv("KITTY_RC_PASSWORD"),
		Tuning:          defaultTuning(),
	}

	if tuningFilePath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(tuningFilePath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("daemonconfig: read tuning file: %w", err)
	}

	var raw map[string]any
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("daemonconfig: parse hjson: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("daemonconfig: convert tuning to json: %w", err)
	}
	if err := json.Unmarshal(jsonData, &cfg.Tuning); err != nil {
		return Config{}, fmt.Errorf("daemonconfig: unmarshal tuning: %w", err)
	}

	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mimesis/data.db"
	}
	return filepath.Join(home, ".mimesis", "data.db")
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
