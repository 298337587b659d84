// Package config loads fleet configuration from environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Config of fleet process.
type Config struct {
	// Admin bot.
	BotToken string `env:"BOT_TOKEN"`
	AppID    int    `env:"APP_ID"`
	AppHash  string `env:"APP_HASH"`
	TestDC   bool   `env:"TEST_DC"`

	// Storage.
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	// Status API.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"localhost:8080"`

	ConversationTimeout time.Duration `env:"CONVERSATION_TIMEOUT" envDefault:"10m"`
	MonitorOnStart      bool          `env:"MONITOR_ON_START" envDefault:"true"`
	Parallel            int           `env:"PARALLEL" envDefault:"8"`
	ActionRate          float64       `env:"ACTION_RATE" envDefault:"10"`
	ActionBurst         int           `env:"ACTION_BURST" envDefault:"10"`

	// AdminIDs are granted permanent access on startup.
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`
}

// DatabasePath is a path to document store.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "fleet.pebble")
}

// StatePath is a path to updates state of admin bot.
func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, "bot-state.bbolt")
}

// SessionPath is a path to session file of admin bot.
func (c Config) SessionPath() string {
	return filepath.Join(c.DataDir, "bot-session.json")
}

// Load reads .env file if present and parses environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	return Parse()
}

// Parse parses environment.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return cfg, nil
}

// ValidateBot checks that admin bot can be started.
func (c Config) ValidateBot() error {
	switch {
	case c.BotToken == "":
		return errors.New("no BOT_TOKEN provided")
	case c.AppID == 0:
		return errors.New("no APP_ID provided")
	case c.AppHash == "":
		return errors.New("no APP_HASH provided")
	}
	if c.ConversationTimeout <= 0 {
		return errors.Errorf("invalid CONVERSATION_TIMEOUT %s", c.ConversationTimeout)
	}
	return nil
}

// EnsureDataDir creates data directory.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	return nil
}
