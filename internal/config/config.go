// Package config provides the configuration schema, loader, and provider
// registry for the Parley translation server.
package config

import "time"

// LogLevel controls log verbosity for the Parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SupportedLanguages is the language set rooms and solo sessions may select.
var SupportedLanguages = []string{"en", "es", "pt"}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Recording RecordingConfig `yaml:"recording"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which implementation serves each capability.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	VAD ProviderEntry `yaml:"vad"`
	ASR ProviderEntry `yaml:"asr"`
	MT  ProviderEntry `yaml:"mt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper", "libretranslate").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint, or names the local
	// server address for self-hosted providers.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (a whisper.cpp model path,
	// an OpenAI model name, ...).
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the per-participant audio pipeline.
type PipelineConfig struct {
	// SilenceHoldMs is the silence duration that closes an utterance.
	// Default: 500.
	SilenceHoldMs int `yaml:"silence_hold_ms"`

	// PartialMinMs is the minimum accumulated speech before an interim
	// transcription is attempted. Default: 1000.
	PartialMinMs int `yaml:"partial_min_ms"`

	// PartialTranslation also translates interim transcripts when a target
	// language is set. Default: true.
	PartialTranslation *bool `yaml:"partial_translation"`

	// Workers is the size of the shared model worker pool.
	// 0 selects the number of CPUs.
	Workers int `yaml:"workers"`

	// ASRTimeout bounds a final transcription. Default: 15s.
	ASRTimeout time.Duration `yaml:"asr_timeout"`

	// MTTimeout bounds a translation. Default: 5s.
	MTTimeout time.Duration `yaml:"mt_timeout"`

	// TTSTimeout bounds a synthesis. Default: 10s.
	TTSTimeout time.Duration `yaml:"tts_timeout"`
}

// RoomsConfig tunes the room registry.
type RoomsConfig struct {
	// CodeLength is the room code length. Default: 6.
	CodeLength int `yaml:"code_length"`

	// IdleTTL is how long an inactive room survives before the sweeper
	// removes it. Default: 10m.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// SweepInterval is how often the sweeper runs. Default: 60s.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RecordingConfig controls the diagnostic audio dump.
type RecordingConfig struct {
	// Dir is the directory recordings are written under.
	// Empty disables recording.
	Dir string `yaml:"dir"`
}

// ApplyDefaults fills zero-valued tuning fields with their documented
// defaults. Called by the loader after decoding.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Pipeline.SilenceHoldMs == 0 {
		c.Pipeline.SilenceHoldMs = 500
	}
	if c.Pipeline.PartialMinMs == 0 {
		c.Pipeline.PartialMinMs = 1000
	}
	if c.Pipeline.PartialTranslation == nil {
		enabled := true
		c.Pipeline.PartialTranslation = &enabled
	}
	if c.Pipeline.ASRTimeout == 0 {
		c.Pipeline.ASRTimeout = 15 * time.Second
	}
	if c.Pipeline.MTTimeout == 0 {
		c.Pipeline.MTTimeout = 5 * time.Second
	}
	if c.Pipeline.TTSTimeout == 0 {
		c.Pipeline.TTSTimeout = 10 * time.Second
	}
	if c.Rooms.CodeLength == 0 {
		c.Rooms.CodeLength = 6
	}
	if c.Rooms.IdleTTL == 0 {
		c.Rooms.IdleTTL = 10 * time.Minute
	}
	if c.Rooms.SweepInterval == 0 {
		c.Rooms.SweepInterval = 60 * time.Second
	}
}
