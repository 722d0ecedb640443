// Package config loads client configuration from the environment.
package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API     APIConfig
	Socket  SocketConfig
	Session SessionConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SocketConfig struct {
	URL         string
	DialTimeout time.Duration
}

type SessionConfig struct {
	Path string
}

// Load reads configuration from a .env file (if present) and the
// environment, falling back to defaults that match the development
// backend.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	return &Config{
		API: APIConfig{
			BaseURL: getEnvOrDefault("API_URL", "http://localhost:3000"),
			Timeout: getDurationOrDefault("API_TIMEOUT", "5s"),
		},
		Socket: SocketConfig{
			URL:         getEnvOrDefault("SOCKET_URL", "ws://localhost:3000/socket"),
			DialTimeout: getDurationOrDefault("SOCKET_DIAL_TIMEOUT", "10s"),
		},
		Session: SessionConfig{
			Path: getEnvOrDefault("SESSION_PATH", defaultSessionPath()),
		},
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley-session.json"
	}
	return filepath.Join(home, ".parley", "session.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid duration for %s: %v", key, err)
	}
	return duration
}
