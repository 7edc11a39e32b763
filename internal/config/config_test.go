package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.EventTimeout)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, ":5000", cfg.Addr())
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	chdir(t, t.TempDir())

	_, err := Load()
	require.Error(t, err)
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := Config{StoreDriver: "mongo", JWTSecret: "s", SendQueueSize: 1, EventTimeout: time.Second}
	require.Error(t, cfg.Validate())

	cfg.StoreDriver = StoreBadger
	require.NoError(t, cfg.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
