package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUBLIC_KEY", "testkey")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "testkey", cfg.PublicKey)
	assert.Equal(t, "https://nexus.pubky.app", cfg.NexusURL)
	assert.Equal(t, "gemma2:2b", cfg.OllamaModel)
	assert.Equal(t, 60*time.Second, cfg.FetchInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.WorkerInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.PublishInterval.Duration)
	assert.Equal(t, 10, cfg.WorkerBatch)
	assert.Equal(t, 20, cfg.PublishBatch)
	assert.False(t, cfg.QuietPublish)
	assert.Contains(t, cfg.Prompt, "{{TEXT}}")
}

func TestLoadRequiresPublicKey(t *testing.T) {
	t.Setenv("PUBLIC_KEY", "")

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public_key")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PUBLIC_KEY", "testkey")
	t.Setenv("OLLAMA_MODEL", "mistral:7b")
	t.Setenv("NEXUS_API_URL", "http://localhost:8080")
	t.Setenv("TAGKY_QUIET_TAGS", "1")
	t.Setenv("TAGKY_FETCH_INTERVAL_MS", "1500")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "mistral:7b", cfg.OllamaModel)
	assert.Equal(t, "http://localhost:8080", cfg.NexusURL)
	assert.True(t, cfg.QuietPublish)
	assert.Equal(t, 1500*time.Millisecond, cfg.FetchInterval.Duration)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("PUBLIC_KEY", "")

	path := filepath.Join(t.TempDir(), "tagky.toml")
	data := `
public_key = "filekey"
ollama_model = "llama3:8b"
worker_batch = 3
fetch_interval = "2m"

[messages]
follow_activated = "ok!"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)

	assert.Equal(t, "filekey", cfg.PublicKey)
	assert.Equal(t, "llama3:8b", cfg.OllamaModel)
	assert.Equal(t, 3, cfg.WorkerBatch)
	assert.Equal(t, 2*time.Minute, cfg.FetchInterval.Duration)
	assert.Equal(t, "ok!", cfg.Messages.FollowActivated)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://nexus.pubky.app", cfg.NexusURL)
	assert.Equal(t, 20, cfg.PublishBatch)
}

func TestLoadFlagsWin(t *testing.T) {
	t.Setenv("PUBLIC_KEY", "testkey")
	t.Setenv("TAGKY_DB", "/env/db.sqlite")

	cfg, err := Load([]string{"-db", "/flag/db.sqlite", "-quiet"})
	require.NoError(t, err)

	assert.Equal(t, "/flag/db.sqlite", cfg.DBPath)
	assert.True(t, cfg.QuietPublish)
}
