package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default configuration values
const (
	DefaultStoreBackend = "ws"
	DefaultStoreURL     = "wss://signal.anonmeet.app/store"
	DefaultRedisAddr    = "localhost:6379"
	DefaultSTUN         = "stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
	DefaultTURN         = "" // optional, empty by default
	DefaultPoolSize     = 10
)

// Config holds application configuration
type Config struct {
	// StoreBackend selects the signaling store: ws, redis or memory
	StoreBackend string
	StoreURL     string
	RedisAddr    string
	RedisPass    string

	// ICE configuration for the transport engine
	STUNServers       []string
	TURNServer        string
	TURNUser          string
	TURNPass          string
	CandidatePoolSize int
}

// Options for loading config with CLI flag overrides
type Options struct {
	StoreBackend string
	StoreURL     string
	RedisAddr    string
	RedisPass    string
	STUNServers  string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	PoolSize     int
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	backend := firstOf(opts.StoreBackend, os.Getenv("ANONMEET_STORE"), DefaultStoreBackend)
	switch backend {
	case "ws", "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}

	stun := firstOf(opts.STUNServers, os.Getenv("STUN_SERVERS"), DefaultSTUN)

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		if v := os.Getenv("ICE_POOL_SIZE"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid ICE_POOL_SIZE: %w", err)
			}
			poolSize = parsed
		}
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	return &Config{
		StoreBackend:      backend,
		StoreURL:          firstOf(opts.StoreURL, os.Getenv("ANONMEET_STORE_URL"), DefaultStoreURL),
		RedisAddr:         firstOf(opts.RedisAddr, os.Getenv("REDIS_ADDR"), DefaultRedisAddr),
		RedisPass:         firstOf(opts.RedisPass, os.Getenv("REDIS_PASSWORD"), ""),
		STUNServers:       splitList(stun),
		TURNServer:        firstOf(opts.TURNServer, os.Getenv("TURN_SERVER"), DefaultTURN),
		TURNUser:          firstOf(opts.TURNUser, os.Getenv("TURN_USERNAME"), ""),
		TURNPass:          firstOf(opts.TURNPass, os.Getenv("TURN_PASSWORD"), ""),
		CandidatePoolSize: poolSize,
	}, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetRoomLink returns a shareable invite string for a room code
func (c *Config) GetRoomLink(roomCode string) string {
	return fmt.Sprintf("anonmeet join %s", roomCode)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
