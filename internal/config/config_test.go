package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carneyyy/task-scheduler-project/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := config.Load("")
		assert.NoError(t, err)
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, 10*time.Second, cfg.TickInterval)
		assert.Equal(t, 4, cfg.DispatchWorkers)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		assert.NoError(t, os.WriteFile(path, []byte(`
http_port: 9090
tick_interval: 30s
log_level: debug
`), 0o644))

		cfg, err := config.Load(path)
		assert.NoError(t, err)
		assert.Equal(t, 9090, cfg.HTTPPort)
		assert.Equal(t, 30*time.Second, cfg.TickInterval)
		assert.Equal(t, "debug", cfg.LogLevel)
		// Untouched fields keep their defaults.
		assert.Equal(t, 4, cfg.DispatchWorkers)
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("http_port: 9090\n"), 0o644))
		t.Setenv("HTTP_PORT", "7070")
		t.Setenv("DATABASE_URL", "postgres://env/override")

		cfg, err := config.Load(path)
		assert.NoError(t, err)
		assert.Equal(t, 7070, cfg.HTTPPort)
		assert.Equal(t, "postgres://env/override", cfg.DatabaseURL)
	})

	t.Run("MissingFileIsFine", func(t *testing.T) {
		cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.NoError(t, err)
		assert.Equal(t, 8080, cfg.HTTPPort)
	})

	t.Run("RejectsBadPort", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("http_port: 70000\n"), 0o644))
		_, err := config.Load(path)
		assert.Error(t, err)
	})

	t.Run("RejectsBadYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("http_port: [not a number\n"), 0o644))
		_, err := config.Load(path)
		assert.Error(t, err)
	})
}
