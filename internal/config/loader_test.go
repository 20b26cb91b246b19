package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, StackConfig{DefaultLimit: 20, MaxLimit: 100}, cfg.Stack)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  host: db.internal
  port: 6543
store: memory
server:
  addr: ":9090"
  cors_origins: ["https://qa.example.com"]
log:
  level: debug
  format: json
stack:
  default_limit: 5
  max_limit: 50
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("DB_HOST", "override.internal")
	t.Setenv("CASETRAIL_STACK_MAX_LIMIT", "60")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://qa.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, StackConfig{DefaultLimit: 5, MaxLimit: 60}, cfg.Stack)

	var buf bytes.Buffer
	logger, err := cfg.Log.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "store", env: map[string]string{"CASETRAIL_STORE": "sqlite"}},
		{name: "isolation", env: map[string]string{"CASETRAIL_ISOLATION": "snapshot"}},
		{name: "log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "stack limits", env: map[string]string{"CASETRAIL_STACK_DEFAULT_LIMIT": "10", "CASETRAIL_STACK_MAX_LIMIT": "5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestLoadDBConfigUsesURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@h:1/d?sslmode=disable")
	cfg, err := LoadDBConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h:1/d?sslmode=disable", cfg.DSN())
}
