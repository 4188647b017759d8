// Package server exposes the voice channel over WebSocket and the HTTP
// surface around it: health, API info, the bundled web UI and monitoring
// endpoints (sessions, configuration, statistics, Prometheus metrics).
package server
