package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_PATH", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg := Load()
	assert.Equal(t, ":8090", cfg.ServerAddr)
	assert.Equal(t, CheckpointDerived, cfg.Sync.CheckpointSource)
	assert.Equal(t, 40, cfg.Sync.DisplayPageSize)
	assert.Equal(t, 5*time.Minute, cfg.Sync.LockTTL)
	assert.Equal(t, time.Duration(0), cfg.Sync.Interval)
	assert.Equal(t, "admin", cfg.Remote.Recipient)
	assert.Equal(t, 10, cfg.DBMaxConnections())
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	yml := `
server_addr: ":9000"
redis_url: "redis://cache:6379/1"
remote:
  base_url: "https://greenstand.example/api/messaging"
  page_limit: 25
  recipient: "ops"
sync:
  interval_seconds: 120
  checkpoint_source: stored
`
	path := filepath.Join(dir, "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("REMOTE_PAGE_LIMIT", "10")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "https://greenstand.example/api/messaging", cfg.Remote.BaseURL)
	assert.Equal(t, 10, cfg.Remote.PageLimit, "env wins over yaml")
	assert.Equal(t, "ops", cfg.Remote.Recipient)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, CheckpointStored, cfg.Sync.CheckpointSource)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("FIELDSYNC_DOTENV_PROBE=from-file\nAPI_TOKEN=dotenv-token\n"), 0o600))
	t.Setenv("API_TOKEN", "env-token")
	t.Cleanup(func() { _ = os.Unsetenv("FIELDSYNC_DOTENV_PROBE") })

	cfg := Load()
	assert.Equal(t, "env-token", cfg.APIToken)
	assert.Equal(t, "from-file", os.Getenv("FIELDSYNC_DOTENV_PROBE"))
}

func TestUnknownCheckpointSourceFallsBack(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SYNC_CHECKPOINT_SOURCE", "magic")

	cfg := Load()
	assert.Equal(t, CheckpointDerived, cfg.Sync.CheckpointSource)
}
