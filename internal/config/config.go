package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Session       SessionConfig       `yaml:"session"`
	Provider      ProviderConfig      `yaml:"provider"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Persona       PersonaConfig       `yaml:"persona"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	Port      int    `yaml:"port"`
	Address   string `yaml:"address"`
	StaticDir string `yaml:"static_dir"` // prebuilt UI bundle, optional
}

// WebSocketConfig contains duplex channel parameters
type WebSocketConfig struct {
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	WriteTimeout    int   `yaml:"write_timeout"` // seconds
	PongTimeout     int   `yaml:"pong_timeout"`  // seconds
	PingInterval    int   `yaml:"ping_interval"` // seconds
}

// SessionConfig contains per-connection pipeline parameters
type SessionConfig struct {
	MinUtteranceBytes int `yaml:"min_utterance_bytes"`
	HistoryLimit      int `yaml:"history_limit"` // turns
	InboundBuffer     int `yaml:"inbound_buffer"`
	OutboundBuffer    int `yaml:"outbound_buffer"`
	MaxSessions       int `yaml:"max_sessions"` // 0 means unlimited
}

// ProviderConfig contains the inference provider endpoint shared by all stages
type ProviderConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TranscriptionConfig contains speech-to-text parameters
type TranscriptionConfig struct {
	Model       string `yaml:"model"`
	InputFormat string `yaml:"input_format"` // container assumed when sniffing fails
	Language    string `yaml:"language"`
	Timeout     int    `yaml:"timeout"` // seconds
}

// PersonaConfig contains text generation parameters
type PersonaConfig struct {
	Name         string  `yaml:"name"`
	Model        string  `yaml:"model"`
	PromptFile   string  `yaml:"prompt_file"` // empty means built-in persona
	ContextTurns int     `yaml:"context_turns"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Timeout      int     `yaml:"timeout"` // seconds
}

// SynthesisConfig contains text-to-speech parameters
type SynthesisConfig struct {
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	Format  string `yaml:"format"`
	Timeout int    `yaml:"timeout"` // seconds
}

// TelemetryConfig contains tracing configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // OTLP/HTTP endpoint URL
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:      8000,
			Address:   "0.0.0.0",
			StaticDir: "frontend/build",
		},
		WebSocket: WebSocketConfig{
			MaxMessageBytes: 4 << 20,
			WriteTimeout:    10,
			PongTimeout:     60,
			PingInterval:    25,
		},
		Session: SessionConfig{
			MinUtteranceBytes: 1000,
			HistoryLimit:      6,
			InboundBuffer:     64,
			OutboundBuffer:    64,
		},
		Provider: ProviderConfig{
			BaseURL:       "https://api.together.xyz/v1",
			MaxConcurrent: 16,
		},
		Transcription: TranscriptionConfig{
			Model:       "whisper-large-v3-turbo",
			InputFormat: "webm",
			Timeout:     30,
		},
		Persona: PersonaConfig{
			Name:         "Donna",
			Model:        "kimi-k2-5",
			ContextTurns: 6,
			Temperature:  0.9,
			MaxTokens:    200,
			Timeout:      30,
		},
		Synthesis: SynthesisConfig{
			Model:   "orpheus-3b-0.1-ft",
			Voice:   "tara",
			Format:  "mp3",
			Timeout: 60,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "donna-relay",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies the
// environment overlay and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Persona.Validate(); err != nil {
		return fmt.Errorf("persona config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates websocket configuration
func (w *WebSocketConfig) Validate() error {
	if w.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024 bytes, got %d", w.MaxMessageBytes)
	}

	if w.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", w.WriteTimeout)
	}

	if w.PongTimeout < 1 {
		return fmt.Errorf("pong_timeout must be at least 1 second, got %d", w.PongTimeout)
	}

	if w.PingInterval < 1 || w.PingInterval >= w.PongTimeout {
		return fmt.Errorf("ping_interval must be between 1 and pong_timeout (%d), got %d",
			w.PongTimeout, w.PingInterval)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.MinUtteranceBytes < 0 {
		return fmt.Errorf("min_utterance_bytes cannot be negative, got %d", s.MinUtteranceBytes)
	}

	// one exchange is a user turn plus an assistant turn
	if s.HistoryLimit < 2 || s.HistoryLimit%2 != 0 {
		return fmt.Errorf("history_limit must be an even number of at least 2, got %d", s.HistoryLimit)
	}

	if s.InboundBuffer < 1 {
		return fmt.Errorf("inbound_buffer must be at least 1, got %d", s.InboundBuffer)
	}

	if s.OutboundBuffer < 1 {
		return fmt.Errorf("outbound_buffer must be at least 1, got %d", s.OutboundBuffer)
	}

	if s.MaxSessions < 0 {
		return fmt.Errorf("max_sessions cannot be negative, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates provider configuration
func (p *ProviderConfig) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if p.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set TOGETHER_API_KEY)")
	}

	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	validFormats := map[string]bool{"webm": true, "ogg": true, "wav": true, "mp3": true, "mp4": true, "flac": true}
	if !validFormats[t.InputFormat] {
		return fmt.Errorf("input_format must be one of [webm, ogg, wav, mp3, mp4, flac], got '%s'", t.InputFormat)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates persona configuration
func (p *PersonaConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if p.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if p.ContextTurns < 0 {
		return fmt.Errorf("context_turns cannot be negative, got %d", p.ContextTurns)
	}

	if p.Temperature <= 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be in (0, 2], got %f", p.Temperature)
	}

	if p.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", p.MaxTokens)
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	validFormats := map[string]bool{"mp3": true, "wav": true, "opus": true, "aac": true, "flac": true, "pcm": true}
	if !validFormats[s.Format] {
		return fmt.Errorf("format must be one of [mp3, wav, opus, aac, flac, pcm], got '%s'", s.Format)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates telemetry configuration
func (t *TelemetryConfig) Validate() error {
	if t.Enabled && t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when telemetry is enabled")
	}

	if t.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output value is treated as a file path
	return nil
}

// GetWriteTimeout returns the per-frame write deadline as a time.Duration
func (w *WebSocketConfig) GetWriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeout) * time.Second
}

// GetPongTimeout returns how long a connection may stay silent as a time.Duration
func (w *WebSocketConfig) GetPongTimeout() time.Duration {
	return time.Duration(w.PongTimeout) * time.Second
}

// GetPingInterval returns the control ping period as a time.Duration
func (w *WebSocketConfig) GetPingInterval() time.Duration {
	return time.Duration(w.PingInterval) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the generation timeout as a time.Duration
func (p *PersonaConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// ListenAddress returns the host:port the HTTP server listens on
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
