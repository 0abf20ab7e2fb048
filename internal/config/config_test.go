package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Stream.ReplayBufferSize)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval.D())
	assert.Equal(t, 0.1, cfg.Pipeline.TrimFraction)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
pipeline:
  maxRetries: 5
  backoffBase: 250ms
  globalConcurrencyLimit: 3
  trimFraction: 0.2
stream:
  replayBufferSize: 50
  heartbeatInterval: 5s
storage:
  driver: redis
search:
  sites:
    - name: wire
      url: https://news.example.org/search?q={query}
      selectors:
        result: article
        title: h2
        link: a
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(redisAddrEnv, "redis.internal:6379")
	t.Setenv(logLevelEnv, "debug")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BackoffBase.D())
	assert.Equal(t, 3, cfg.Pipeline.GlobalConcurrencyLimit)
	assert.Equal(t, 0.2, cfg.Pipeline.TrimFraction)
	assert.Equal(t, 20, cfg.Pipeline.MaxResultsPerEntity, "unset keys keep defaults")
	assert.Equal(t, 50, cfg.Stream.ReplayBufferSize)
	assert.Equal(t, 5*time.Second, cfg.Stream.HeartbeatInterval.D())
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Search.Sites, 1)
	assert.Equal(t, "article", cfg.Search.Sites[0].Selectors.Result)
}

func TestLoadFallsBackOnUnreadableFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  maxRetries: 1\n"), 0o600))
	t.Setenv(httpAddrEnv, ":9999")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Pipeline.MaxRetries)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, Default().Stream, cfg.Stream)

	_, err = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	cfg, err = LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"trim fraction too high": func(c *Config) { c.Pipeline.TrimFraction = 0.5 },
		"negative trim fraction": func(c *Config) { c.Pipeline.TrimFraction = -0.1 },
		"zero concurrency":       func(c *Config) { c.Pipeline.GlobalConcurrencyLimit = 0 },
		"unknown driver":         func(c *Config) { c.Storage.Driver = "sqlite" },
		"unknown artifact kind":  func(c *Config) { c.Artifacts.Kinds = []string{"pdf"} },
		"zero replay buffer":     func(c *Config) { c.Stream.ReplayBufferSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
