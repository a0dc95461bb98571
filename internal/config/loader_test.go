package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  asr:
    name: whisper
    model: ./models/ggml-small.bin
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.SilenceHoldMs != 500 {
		t.Errorf("silence_hold_ms = %d, want 500", cfg.Pipeline.SilenceHoldMs)
	}
	if cfg.Pipeline.PartialMinMs != 1000 {
		t.Errorf("partial_min_ms = %d, want 1000", cfg.Pipeline.PartialMinMs)
	}
	if cfg.Pipeline.PartialTranslation == nil || !*cfg.Pipeline.PartialTranslation {
		t.Error("partial_translation should default to true")
	}
	if cfg.Pipeline.ASRTimeout != 15*time.Second {
		t.Errorf("asr_timeout = %v, want 15s", cfg.Pipeline.ASRTimeout)
	}
	if cfg.Rooms.CodeLength != 6 {
		t.Errorf("code_length = %d, want 6", cfg.Rooms.CodeLength)
	}
	if cfg.Rooms.IdleTTL != 10*time.Minute {
		t.Errorf("idle_ttl = %v, want 10m", cfg.Rooms.IdleTTL)
	}
}

func TestLoadFromReader_PartialTranslationOffSurvivesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  asr:
    name: whisper
pipeline:
  partial_translation: false
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.PartialTranslation == nil || *cfg.Pipeline.PartialTranslation {
		t.Error("explicit partial_translation: false must not be overwritten by defaulting")
	}
}

func TestLoadFromReader_MissingASRFails(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":9000\"\n"))
	if err == nil {
		t.Fatal("expected error when providers.asr is absent")
	}
	if !strings.Contains(err.Error(), "asr") {
		t.Errorf("error should mention asr, got: %v", err)
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
providers:
  asr:
    name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  asr:
    name: whisper
sevrer:
  listen_addr: ":9"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for misspelled top-level key")
	}
}

func TestLoadFromReader_CodeLengthBounds(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  asr:
    name: whisper
rooms:
  code_length: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range code length")
	}
}
