package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MithilHassan/kbt-express/internal/weight"
)

func validConfig() Config {
	return Config{
		Timezone:          "Asia/Dhaka",
		OperatorTokenHash: "$2a$04$hash",
		BookingPrefix:     "101",
		BookingWidth:      6,
		SequenceBackend:   SequencePostgres,
		WeightPolicy:      "additive",
		RenderScale:       2,
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Chdir(t.TempDir())
	t.Setenv("OPERATOR_TOKEN_HASH", "$2a$04$hash")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "101", cfg.BookingPrefix)
	assert.Equal(t, 6, cfg.BookingWidth)
	assert.Equal(t, weight.PolicyAdditive, cfg.Policy())
	assert.Equal(t, 24*time.Hour, cfg.DocumentCacheTTL)
	assert.Equal(t, "support@kbtexpress.net", cfg.Company().Email)
	assert.False(t, cfg.IsProduction())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Dhaka", loc.String())
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kbt.env")
	require.NoError(t, os.WriteFile(path, []byte("OPERATOR_TOKEN_HASH=from-file\nBOOKING_PREFIX=202\nWEIGHT_POLICY=legacy-max\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("OPERATOR_TOKEN_HASH", "")
	t.Setenv("BOOKING_PREFIX", "")
	t.Setenv("WEIGHT_POLICY", "")
	for _, key := range []string{"OPERATOR_TOKEN_HASH", "BOOKING_PREFIX", "WEIGHT_POLICY"} {
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.OperatorTokenHash)
	assert.Equal(t, "202", cfg.BookingPrefix)
	assert.Equal(t, weight.PolicyLegacyMax, cfg.Policy())
}

func TestLoadConfigRequiresTokenHash(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Chdir(t.TempDir())
	t.Setenv("OPERATOR_TOKEN_HASH", "")
	require.NoError(t, os.Unsetenv("OPERATOR_TOKEN_HASH"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"blank hash":   func(c *Config) { c.OperatorTokenHash = "  " },
		"backend":      func(c *Config) { c.SequenceBackend = "memory" },
		"policy":       func(c *Config) { c.WeightPolicy = "heaviest" },
		"prefix":       func(c *Config) { c.BookingPrefix = "AB" },
		"timezone":     func(c *Config) { c.Timezone = "Mars/Olympus" },
		"render scale": func(c *Config) { c.RenderScale = 0 },
		"width":        func(c *Config) { c.BookingWidth = 19 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
	cfg.SequenceBackend = SequenceRedis
	assert.NoError(t, cfg.Validate())
}
