package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr         string
	UpstreamURL        string
	Model              string
	MaxSessions        int
	KeepAliveInterval  time.Duration
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	ClientPingInterval time.Duration
}

func Load() *Config {
	return &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		UpstreamURL:        getEnv("UPSTREAM_URL", "wss://api.deepgram.com/v1/listen"),
		Model:              getEnv("MODEL", "nova-2"),
		MaxSessions:        getEnvInt("MAX_SESSIONS", 100),
		KeepAliveInterval:  getEnvSeconds("KEEPALIVE_INTERVAL_SEC", 5),
		ConnectTimeout:     getEnvSeconds("CONNECT_TIMEOUT_SEC", 10),
		WriteTimeout:       getEnvSeconds("WRITE_TIMEOUT_SEC", 10),
		ClientPingInterval: getEnvSeconds("CLIENT_PING_INTERVAL_SEC", 30),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
