package app

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	asrmock "github.com/MrWong99/parley/pkg/provider/asr/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  asr:
    name: whisper
    model: ./models/ggml-small.bin
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestNew_RequiresASR(t *testing.T) {
	_, err := New(testConfig(t), Providers{VAD: &vadmock.Engine{}}, nil)
	if err == nil {
		t.Fatal("expected error without an ASR capability")
	}
	if !strings.Contains(err.Error(), "capability_unavailable") {
		t.Errorf("error should classify as capability_unavailable, got: %v", err)
	}
}

func TestNew_RequiresVAD(t *testing.T) {
	_, err := New(testConfig(t), Providers{ASR: &asrmock.Provider{}}, nil)
	if err == nil {
		t.Fatal("expected error without a VAD capability")
	}
}

func TestNew_WiresSubsystems(t *testing.T) {
	a, err := New(testConfig(t), Providers{
		VAD: &vadmock.Engine{},
		ASR: &asrmock.Provider{},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.server == nil || a.registry == nil || a.pipeline == nil {
		t.Error("subsystems not wired")
	}
	if a.server.Addr != ":8080" {
		t.Errorf("listen addr = %q, want config default", a.server.Addr)
	}
}
