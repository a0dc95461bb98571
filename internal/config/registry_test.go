package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateVAD(config.ProviderEntry{Name: "silero"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	engine, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if engine == nil {
		t.Fatal("engine is nil")
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	first := energy.New()
	second := energy.New()
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return first, nil })
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return second, nil })

	engine, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if engine != second {
		t.Error("the later registration must overwrite the earlier one")
	}
}
