package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a := require.New(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("APP_ID", "17349")
	t.Setenv("APP_HASH", "hash")
	t.Setenv("DATA_DIR", "/var/lib/fleet")
	t.Setenv("ADMIN_IDS", "10,20")
	t.Setenv("CONVERSATION_TIMEOUT", "5m")
	t.Setenv("PARALLEL", "0")

	cfg, err := Parse()
	a.NoError(err)
	a.NoError(cfg.ValidateBot())
	a.Equal(17349, cfg.AppID)
	a.Equal([]int64{10, 20}, cfg.AdminIDs)
	a.Equal(5*time.Minute, cfg.ConversationTimeout)
	a.Equal(1, cfg.Parallel)
	a.Equal("localhost:8080", cfg.HTTPAddr)
	a.Equal(filepath.Join("/var/lib/fleet", "fleet.pebble"), cfg.DatabasePath())
	a.Equal(filepath.Join("/var/lib/fleet", "bot-state.bbolt"), cfg.StatePath())
}

func TestParse_Defaults(t *testing.T) {
	a := require.New(t)
	for _, key := range []string{
		"BOT_TOKEN", "APP_ID", "APP_HASH", "ADMIN_IDS",
		"DATA_DIR", "CONVERSATION_TIMEOUT", "PARALLEL",
	} {
		// Restored by t.Setenv on cleanup.
		t.Setenv(key, "")
		a.NoError(os.Unsetenv(key))
	}

	cfg, err := Parse()
	a.NoError(err)
	a.Equal("data", cfg.DataDir)
	a.Equal(10*time.Minute, cfg.ConversationTimeout)
	a.Equal(8, cfg.Parallel)
	a.Empty(cfg.AdminIDs)
	a.EqualError(cfg.ValidateBot(), "no BOT_TOKEN provided")
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("APP_ID", "nan")
	_, err := Parse()
	require.Error(t, err)
}
