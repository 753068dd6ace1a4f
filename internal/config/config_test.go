package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerPort != "4000" {
		t.Errorf("expected default port 4000, got %s", cfg.ServerPort)
	}
	if cfg.KippyHost != "https://prod.kippyapi.eu" {
		t.Errorf("unexpected default host %s", cfg.KippyHost)
	}
	if cfg.IdleRefresh != 300*time.Second {
		t.Errorf("expected idle refresh 300s, got %s", cfg.IdleRefresh)
	}
	if cfg.LiveRefresh != 10*time.Second {
		t.Errorf("expected live refresh 10s, got %s", cfg.LiveRefresh)
	}
	if cfg.ActivityRefreshDelay != 2*time.Minute {
		t.Errorf("expected activity delay 2m, got %s", cfg.ActivityRefreshDelay)
	}
	if !cfg.IgnoreLBS {
		t.Error("ignore LBS should default to true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEBUG", "true")
	t.Setenv("KIPPY_EMAIL", "owner@example.com")
	t.Setenv("IDLE_REFRESH", "2m")
	t.Setenv("LIVE_REFRESH", "5s")
	t.Setenv("IGNORE_LBS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.ServerPort)
	}
	if !cfg.Debug {
		t.Error("debug should be enabled")
	}
	if cfg.KippyEmail != "owner@example.com" {
		t.Errorf("unexpected email %s", cfg.KippyEmail)
	}
	if cfg.IdleRefresh != 2*time.Minute {
		t.Errorf("expected idle refresh 2m, got %s", cfg.IdleRefresh)
	}
	if cfg.LiveRefresh != 5*time.Second {
		t.Errorf("expected live refresh 5s, got %s", cfg.LiveRefresh)
	}
	if cfg.IgnoreLBS {
		t.Error("ignore LBS should be disabled")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("IDLE_REFRESH", "not-a-duration")
	t.Setenv("IGNORE_LBS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleRefresh != 300*time.Second {
		t.Errorf("invalid duration should fall back to default, got %s", cfg.IdleRefresh)
	}
	if !cfg.IgnoreLBS {
		t.Error("invalid bool should fall back to default")
	}
}
