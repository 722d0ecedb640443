package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.API.BaseURL == "" {
		t.Error("API base URL default is empty")
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("want 5s API timeout, got %v", cfg.API.Timeout)
	}
	if cfg.Socket.URL == "" {
		t.Error("socket URL default is empty")
	}
	if cfg.Session.Path == "" {
		t.Error("session path default is empty")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_URL", "http://chat.example.com")
	t.Setenv("API_TIMEOUT", "2s")
	t.Setenv("SOCKET_URL", "ws://chat.example.com/socket")
	t.Setenv("SESSION_PATH", "/tmp/parley-session.json")

	cfg := Load()

	if cfg.API.BaseURL != "http://chat.example.com" {
		t.Errorf("API_URL not honored: %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 2*time.Second {
		t.Errorf("API_TIMEOUT not honored: %v", cfg.API.Timeout)
	}
	if cfg.Socket.URL != "ws://chat.example.com/socket" {
		t.Errorf("SOCKET_URL not honored: %q", cfg.Socket.URL)
	}
	if cfg.Session.Path != "/tmp/parley-session.json" {
		t.Errorf("SESSION_PATH not honored: %q", cfg.Session.Path)
	}
}
