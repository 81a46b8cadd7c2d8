package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.WatchWindow != 24*time.Hour {
		t.Errorf("WatchWindow default: got %v", cfg.WatchWindow)
	}
	if cfg.MaxCascadedActive != 100 {
		t.Errorf("MaxCascadedActive default: got %d", cfg.MaxCascadedActive)
	}
	if cfg.MinLargeTransfer != 1.0 {
		t.Errorf("MinLargeTransfer default: got %v", cfg.MinLargeTransfer)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval default: got %v", cfg.PollInterval)
	}
	if cfg.ReconnectBaseDelay != 5*time.Second {
		t.Errorf("ReconnectBaseDelay default: got %v", cfg.ReconnectBaseDelay)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts default: got %d", cfg.MaxReconnectAttempts)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WATCH_WINDOW_HOURS", "48")
	t.Setenv("MAX_CASCADED_ACTIVE", "5")
	t.Setenv("MIN_LARGE_TRANSFER_SOL", "2.5")
	t.Setenv("POLL_INTERVAL_MS", "10000")
	t.Setenv("DEDUP_TTL_SECONDS", "120")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.WatchWindow != 48*time.Hour {
		t.Errorf("WatchWindow: got %v", cfg.WatchWindow)
	}
	if cfg.MaxCascadedActive != 5 {
		t.Errorf("MaxCascadedActive: got %d", cfg.MaxCascadedActive)
	}
	if cfg.MinLargeTransfer != 2.5 {
		t.Errorf("MinLargeTransfer: got %v", cfg.MinLargeTransfer)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval: got %v", cfg.PollInterval)
	}
	if cfg.DedupTTL != 2*time.Minute {
		t.Errorf("DedupTTL: got %v", cfg.DedupTTL)
	}
}

func TestFromEnv_Malformed(t *testing.T) {
	t.Setenv("MAX_CASCADED_ACTIVE", "lots")

	if _, err := FromEnv(); err == nil {
		t.Fatal("malformed value must error")
	}
}
