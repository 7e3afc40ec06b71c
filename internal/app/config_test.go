package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, CacheBackendMemory, cfg.ContoCacheBackend)
	require.Equal(t, 30*time.Second, cfg.ContoCacheTTL)
	require.Equal(t, int64(20<<20), cfg.ContoMaxUploadBytes)
	require.Equal(t, 10, cfg.ContoUploadRate)
	require.False(t, cfg.IsProduction())
	require.Equal(t, int32(10), cfg.PoolOptions().MaxConns)
	require.Equal(t, "127.0.0.1:6379", cfg.RedisOptions().Addr)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{SessionSecret: "s", ContoCacheBackend: CacheBackendRedis, ContoCacheTTL: time.Second, ContoMaxUploadBytes: 1, ContoUploadRate: 1, PGMaxConns: 1}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"missing secret":   func(c *Config) { c.SessionSecret = "" },
		"unknown backend":  func(c *Config) { c.ContoCacheBackend = "memcached" },
		"zero ttl":         func(c *Config) { c.ContoCacheTTL = 0 },
		"zero upload size": func(c *Config) { c.ContoMaxUploadBytes = 0 },
		"zero rate":        func(c *Config) { c.ContoUploadRate = 0 },
		"zero pool":        func(c *Config) { c.PGMaxConns = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	disabled := valid
	disabled.ContoCacheBackend = CacheBackendNone
	disabled.ContoCacheTTL = 0
	require.NoError(t, disabled.Validate())
}
