package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 500, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, time.Hour, cfg.Redis.ResultTTL)
	assert.Equal(t, 2*time.Second, cfg.Worker.DequeueTimeout)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunking:
  chunkSize: 4000
  chunkOverlap: 100
worker:
  workers: 8
ollama:
  timeout: 90s
`), 0o600))

	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("OLLAMA_EMBEDDING_MODEL", "mxbai-embed-large")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 2, cfg.Worker.Workers)
	assert.Equal(t, 90*time.Second, cfg.Ollama.Timeout)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	// untouched sections keep defaults
	assert.Equal(t, 500, cfg.Chunking.MinChunkSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap >= size", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"no workers", func(c *Config) { c.Worker.Workers = 0 }},
		{"short dequeue timeout", func(c *Config) { c.Worker.DequeueTimeout = 100 * time.Millisecond }},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"bad vector store", func(c *Config) { c.VectorStore.Type = "faiss" }},
		{"ratio > 1", func(c *Config) { c.Chunking.MinAlnumRatio = 1.5 }},
		{"memory store without embedded worker", func(c *Config) { c.Store.Type = "memory" }},
		{"memory storage without embedded worker", func(c *Config) { c.Storage.Type = "memory" }},
		{"no crawl pages", func(c *Config) { c.Crawler.MaxPages = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMemoryBackendsNeedEmbeddedWorker(t *testing.T) {
	cfg := Default()
	cfg.Store.Type = "memory"
	cfg.VectorStore.Type = "memory"
	cfg.Storage.Type = "memory"
	require.ErrorContains(t, cfg.Validate(), "server.embeddedWorker")

	t.Setenv("EMBEDDED_WORKER", "true")
	t.Setenv("DOCUMENT_STORE_TYPE", "memory")
	loaded, err := Load("")
	require.NoError(t, err)
	assert.True(t, loaded.Server.EmbeddedWorker)
	assert.True(t, loaded.UsesMemoryBackend())
}
