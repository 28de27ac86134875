package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zbx.yaml")
	data := `
trapper:
  host: proxy-1.example.com
  timeout: 3s
api:
  url: https://monitor.example.com/api_jsonrpc.php
  user: Admin
registry:
  endpoints: [etcd-1:2379, etcd-2:2379]
  balancer: round_robin
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trapper.Host != "proxy-1.example.com" || cfg.Trapper.Timeout != 3*time.Second {
		t.Fatalf("unexpected trapper config %+v", cfg.Trapper)
	}
	if cfg.Trapper.Port != 10051 {
		t.Fatalf("default port lost: %d", cfg.Trapper.Port)
	}
	if cfg.API.User != "Admin" || len(cfg.Registry.Endpoints) != 2 || cfg.Registry.Service != "trapper" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trapper.Host != "127.0.0.1" {
		t.Fatalf("defaults not applied: %+v", cfg.Trapper)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zbx.yaml")
	os.WriteFile(path, []byte("trapper: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expect error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ZBX_SERVER":         "10.0.0.5",
		"ZBX_PORT":           "10052",
		"ZBX_TIMEOUT":        "250ms",
		"ZBX_ETCD_ENDPOINTS": "etcd-1:2379, ,etcd-2:2379",
		"ZBX_API_PASSWORD":   "secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Trapper.Host != "10.0.0.5" || cfg.Trapper.Port != 10052 || cfg.Trapper.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected trapper config %+v", cfg.Trapper)
	}
	if strings.Join(cfg.Registry.Endpoints, "|") != "etcd-1:2379|etcd-2:2379" {
		t.Fatalf("unexpected endpoints %q", cfg.Registry.Endpoints)
	}
	if cfg.API.Password != "secret" {
		t.Fatal("password not applied")
	}

	env["ZBX_PORT"] = "http"
	if err := Default().ApplyEnv(lookup); err == nil || !strings.Contains(err.Error(), "ZBX_PORT") {
		t.Fatalf("expect ZBX_PORT error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "zbxctl.log")
	logger, err := NewLogger(LogConfig{Level: "info", File: file, MaxSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("visible")
	logger.Sync()

	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"msg":"visible"`) || strings.Contains(string(b), "hidden") {
		t.Fatalf("unexpected log file %s", b)
	}

	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expect error for unknown level")
	}
}
