package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults with the one required secret filled in
func validConfig() *Config {
	cfg := Default()
	cfg.Provider.APIKey = "test-key"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "missing api key",
			mutate:      func(c *Config) { c.Provider.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "odd history limit",
			mutate:      func(c *Config) { c.Session.HistoryLimit = 5 },
			expectError: true,
			errorMsg:    "history_limit must be an even number",
		},
		{
			name:        "zero inbound buffer",
			mutate:      func(c *Config) { c.Session.InboundBuffer = 0 },
			expectError: true,
			errorMsg:    "inbound_buffer must be at least 1",
		},
		{
			name:        "zero temperature",
			mutate:      func(c *Config) { c.Persona.Temperature = 0 },
			expectError: true,
			errorMsg:    "temperature must be in (0, 2]",
		},
		{
			name:        "unknown input format",
			mutate:      func(c *Config) { c.Transcription.InputFormat = "aiff" },
			expectError: true,
			errorMsg:    "input_format must be one of",
		},
		{
			name:        "unknown synthesis format",
			mutate:      func(c *Config) { c.Synthesis.Format = "midi" },
			expectError: true,
			errorMsg:    "format must be one of",
		},
		{
			name:        "ping interval not below pong timeout",
			mutate:      func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.PongTimeout },
			expectError: true,
			errorMsg:    "ping_interval must be between 1 and pong_timeout",
		},
		{
			name: "telemetry enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Endpoint = ""
			},
			expectError: true,
			errorMsg:    "endpoint cannot be empty when telemetry is enabled",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvPort, "")

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 9000
provider:
  api_key: "file-key"
session:
  inbound_buffer: 16
persona:
  name: "Donna"
  temperature: 0.7
logging:
  level: "debug"
  format: "json"
`,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 9000 {
					t.Errorf("Expected port 9000, got %d", c.HTTP.Port)
				}
				if c.Persona.Temperature != 0.7 {
					t.Errorf("Expected temperature 0.7, got %f", c.Persona.Temperature)
				}
				// untouched sections keep their defaults
				if c.Synthesis.Voice != "tara" {
					t.Errorf("Expected default voice 'tara', got '%s'", c.Synthesis.Voice)
				}
				if c.Session.InboundBuffer != 16 {
					t.Errorf("Expected inbound_buffer 16, got %d", c.Session.InboundBuffer)
				}
				if c.Session.MinUtteranceBytes != 1000 {
					t.Errorf("Expected default min_utterance_bytes 1000, got %d", c.Session.MinUtteranceBytes)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key",
			configYAML: `
http:
  port: 9000
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestConfigLoadEnvOverlay(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvPort, "8123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("Expected api key from environment, got '%s'", cfg.Provider.APIKey)
	}
	if cfg.HTTP.Port != 8123 {
		t.Errorf("Expected port 8123 from environment, got %d", cfg.HTTP.Port)
	}
}

func TestApplyEnvInvalidPort(t *testing.T) {
	cfg := validConfig()
	lookup := func(key string) (string, bool) {
		if key == EnvPort {
			return "eighty", true
		}
		return "", false
	}

	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric PORT")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DONNA_TEST_VALUE=from-file\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("DONNA_TEST_VALUE") })

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("Expected missing files to be skipped, got: %v", err)
	}

	if got := os.Getenv("DONNA_TEST_VALUE"); got != "from-file" {
		t.Errorf("Expected 'from-file', got '%s'", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	if cfg.Transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", cfg.Transcription.GetTimeoutDuration())
	}

	if cfg.Persona.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", cfg.Persona.GetTimeoutDuration())
	}

	if cfg.Synthesis.GetTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", cfg.Synthesis.GetTimeoutDuration())
	}

	if cfg.WebSocket.GetPingInterval() != 25*time.Second {
		t.Errorf("Expected 25 seconds, got %v", cfg.WebSocket.GetPingInterval())
	}

	if cfg.HTTP.ListenAddress() != "0.0.0.0:8000" {
		t.Errorf("Expected 0.0.0.0:8000, got %s", cfg.HTTP.ListenAddress())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{name: "json to stdout", config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, valid: true},
		{name: "text to file", config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/donna.log"}, valid: true},
		{name: "invalid format", config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, valid: false},
		{name: "invalid level", config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
