package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.VADThreshold != 0.01 {
		t.Errorf("expected default VAD threshold 0.01, got %v", cfg.VADThreshold)
	}
	if cfg.IdleThreshold != 3_600_000*time.Millisecond {
		t.Errorf("unexpected idle threshold: %v", cfg.IdleThreshold)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("CONVO_LISTEN_ADDR", ":9999")
	t.Setenv("CONVO_VAD_THRESHOLD", "0.05")
	t.Setenv("STT_PROVIDER", "deepgram")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected overridden listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.VADThreshold != 0.05 {
		t.Errorf("expected overridden VAD threshold, got %v", cfg.VADThreshold)
	}
	if cfg.STTProvider != "deepgram" {
		t.Errorf("expected overridden STT provider, got %q", cfg.STTProvider)
	}
}
