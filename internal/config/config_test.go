package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultStoreBackend, cfg.StoreBackend)
	assert.Equal(t, DefaultStoreURL, cfg.StoreURL)
	assert.Equal(t, DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, []string{
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	}, cfg.STUNServers)
	assert.Equal(t, DefaultPoolSize, cfg.CandidatePoolSize)
	assert.Empty(t, cfg.TURNServer)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ANONMEET_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("STUN_SERVERS", "stun:one.example.com:3478, stun:two.example.com:3478")
	t.Setenv("ICE_POOL_SIZE", "4")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, []string{"stun:one.example.com:3478", "stun:two.example.com:3478"}, cfg.STUNServers)
	assert.Equal(t, 4, cfg.CandidatePoolSize)
}

func TestLoadFlagsBeatEnv(t *testing.T) {
	t.Setenv("ANONMEET_STORE", "redis")
	t.Setenv("TURN_SERVER", "turn:env.example.com")

	cfg, err := Load(Options{
		StoreBackend: "memory",
		TURNServer:   "turn:flag.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "turn:flag.example.com", cfg.TURNServer)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(Options{StoreBackend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestLoadRejectsBadPoolSize(t *testing.T) {
	t.Setenv("ICE_POOL_SIZE", "lots")
	_, err := Load(Options{})
	assert.Error(t, err)
}

func TestGetTURNServers(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.GetTURNServers())

	cfg.TURNServer = "turn:relay.example.com"
	urls := cfg.GetTURNServers()
	require.Len(t, urls, 3)
	assert.Equal(t, "turn:relay.example.com:3478?transport=udp", urls[0])
}
