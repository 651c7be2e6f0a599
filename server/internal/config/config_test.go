package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `dashboard:
  theme: dark
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", cfg.Server.GRPCPort, DefaultGRPCPort)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.WS.Path != DefaultWSPath {
		t.Errorf("ws.path: got %q, want %q", cfg.Server.WS.Path, DefaultWSPath)
	}
	if cfg.Server.WS.Greeting != DefaultGreeting {
		t.Errorf("ws.greeting: got %q, want %q", cfg.Server.WS.Greeting, DefaultGreeting)
	}
	if cfg.Server.Events.TTL != DefaultEventTTL {
		t.Errorf("events.ttl: got %v, want %v", cfg.Server.Events.TTL, DefaultEventTTL)
	}
	if cfg.Server.Level() != slog.LevelInfo {
		t.Errorf("Level: got %v, want info", cfg.Server.Level())
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  log_level: debug
  ws:
    path: /realtime
    greeting: hello dashboards
    send_buffer: 8
  auth:
    mode: apikey
    key_env: MY_KEY
    header: X-Shop-Key
  events:
    ttl: 10m
    per_org: 50
  alerts:
    rules:
      - name: traffic-spike
        condition: events_per_min > 500
        severity: warning
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("grpc_port: got %d, want 9090", cfg.Server.GRPCPort)
	}
	if cfg.Server.WS.Path != "/realtime" {
		t.Errorf("ws.path: got %q, want /realtime", cfg.Server.WS.Path)
	}
	if cfg.Server.WS.Greeting != "hello dashboards" {
		t.Errorf("ws.greeting: got %q", cfg.Server.WS.Greeting)
	}
	if cfg.Server.WS.SendBuffer != 8 {
		t.Errorf("ws.send_buffer: got %d, want 8", cfg.Server.WS.SendBuffer)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-shop-key" {
		t.Errorf("header: got %q, want x-shop-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Events.TTL != 10*time.Minute {
		t.Errorf("events.ttl: got %v, want 10m", cfg.Server.Events.TTL)
	}
	if cfg.Server.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", cfg.Server.Level())
	}
	if len(cfg.Server.Alerts.Rules) != 1 || cfg.Server.Alerts.Rules[0].Name != "traffic-spike" {
		t.Errorf("alerts.rules: got %+v", cfg.Server.Alerts.Rules)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SHOPLENS_HTTP_PORT", "7070")
	t.Setenv("SHOPLENS_WS_GREETING", "from env")
	p := writeConfig(t, `server:
  http_port: 9091
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("http_port: got %d, want 7070", cfg.Server.HTTPPort)
	}
	if cfg.Server.WS.Greeting != "from env" {
		t.Errorf("ws.greeting: got %q, want from env", cfg.Server.WS.Greeting)
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_INGEST_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_INGEST_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_UnknownAuthMode(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: oauth2
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unknown auth mode, got nil")
	}
}

func TestLoad_BadWSPath(t *testing.T) {
	p := writeConfig(t, `server:
  ws:
    path: ws
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for relative ws path, got nil")
	}
}

func TestLoad_BadAlertCondition(t *testing.T) {
	p := writeConfig(t, `server:
  alerts:
    rules:
      - name: broken
        condition: events_per_min
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for malformed condition, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, `server:
  ws:
    greeting: first
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  ws:\n    greeting: second\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// A truncating write may surface an intermediate reload; wait for the final one.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Server.WS.Greeting == "second" {
				return
			}
		case <-deadline:
			t.Fatal("no reload with greeting=second within 3s")
		}
	}
}
