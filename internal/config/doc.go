// Package config provides configuration loading and validation for the voice relay.
// It reads a YAML file over built-in defaults, overlays credentials and the listen
// port from the environment (optionally seeded from .env files), and validates
// every section before the service starts.
package config
