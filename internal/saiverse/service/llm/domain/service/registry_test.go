package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

func TestConfigRegistryDefaults(t *testing.T) {
	r := NewConfigRegistry()

	for _, id := range []string{"gpt-4o", "claude-sonnet", "gemini-flash", "local-llama"} {
		cfg, err := r.Get(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, cfg.ID)
	}

	_, err := r.Get("gpt-9000")
	assert.ErrorIs(t, err, errno.ErrModelNotFound)
}

func TestConfigRegistryLoadFileMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"models": [
			{"id": "gpt-4o", "provider": "openai", "model": "gpt-4o", "context_length": 64000},
			{"id": "my-tune", "provider": "ollama", "model": "tuned:latest", "context_length": 8192, "local": true}
		]
	}`), 0o644))

	r := NewConfigRegistry()
	before := len(r.List())
	require.NoError(t, r.LoadFile(path))

	// Same-id entries are replaced, new ids are added.
	assert.Equal(t, before+1, len(r.List()))

	gpt, err := r.Get("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 64000, gpt.ContextLength)

	tune, err := r.Get("my-tune")
	require.NoError(t, err)
	assert.True(t, tune.Local)
}

func TestConfigRegistryLoadFileRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models": [{"provider": "openai"}]}`), 0o644))

	r := NewConfigRegistry()
	assert.Error(t, r.LoadFile(path))
}
