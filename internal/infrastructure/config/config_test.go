package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg = applyDefaults(cfg)

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTP.Addr)
	}
	if cfg.Auth.TokenTTL.Minutes() != 30 {
		t.Errorf("expected 30m, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Monitor.CheckInterval != 60*time.Second {
		t.Errorf("expected 60s check interval, got %v", cfg.Monitor.CheckInterval)
	}
	if cfg.Queue.DrainInterval != 5*time.Second {
		t.Errorf("expected 5s drain interval, got %v", cfg.Queue.DrainInterval)
	}
	if cfg.Queue.DedupeWindow != 300*time.Second {
		t.Errorf("expected 300s dedupe window, got %v", cfg.Queue.DedupeWindow)
	}
	if cfg.Queue.BatchSize != 10 || cfg.Queue.MaxAttempts != 3 {
		t.Errorf("expected batch 10 / attempts 3, got %d/%d", cfg.Queue.BatchSize, cfg.Queue.MaxAttempts)
	}
	if cfg.Monitor.EventMinImportance != 80 {
		t.Errorf("expected event min importance 80, got %v", cfg.Monitor.EventMinImportance)
	}
	if cfg.Queue.MaxSize != 0 {
		t.Errorf("queue should default to unbounded, got %d", cfg.Queue.MaxSize)
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("MONITOR_CHECK_INTERVAL", "30s")
	os.Setenv("PUSH_ENABLED", "true")
	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("MONITOR_CHECK_INTERVAL")
		os.Unsetenv("PUSH_ENABLED")
	}()

	cfg := Config{}
	cfg = applyEnv(cfg)

	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.HTTP.Addr)
	}
	if cfg.Monitor.CheckInterval != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Monitor.CheckInterval)
	}
	if !cfg.Push.Enabled {
		t.Error("expected push enabled")
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("monitor:\n  check_interval: 15s\nqueue:\n  max_size: 500\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Monitor.CheckInterval != 15*time.Second {
		t.Errorf("expected 15s from file, got %v", cfg.Monitor.CheckInterval)
	}
	if cfg.Queue.MaxSize != 500 {
		t.Errorf("expected max_size 500, got %d", cfg.Queue.MaxSize)
	}
	// 檔案未指定的欄位仍套用預設。
	if cfg.Queue.BatchSize != 10 {
		t.Errorf("expected default batch size, got %d", cfg.Queue.BatchSize)
	}
}

func TestConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default addr, got %s", cfg.HTTP.Addr)
	}
}
