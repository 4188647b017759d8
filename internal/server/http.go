package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whitewookie32/TheDonna/internal/config"
	"github.com/whitewookie32/TheDonna/internal/metrics"
	"github.com/whitewookie32/TheDonna/internal/provider"
	"github.com/whitewookie32/TheDonna/internal/session"
)

const serviceName = "The Donna Voice Chat"

// StatsSource is a capability client that keeps call statistics
type StatsSource interface {
	GetStats() provider.ClientStats
}

// Dependencies are the components the HTTP surface reports on
type Dependencies struct {
	Registry *session.Registry
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer    // source for /metrics
	Limiter  *provider.Limiter      // optional
	Stats    map[string]StatsSource // keyed by stage name
}

// HTTPServer serves the voice channel, the UI bundle and the monitoring API
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	deps    Dependencies
	ws      *WSHandler

	startTime time.Time
}

// NewHTTPServer creates the HTTP server with all routes registered
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, deps Dependencies) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		ws:        NewWSHandler(cfg.WebSocket, cfg.Session.OutboundBuffer, deps.Registry, logger),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = withCORS(mux)

	h.server = &http.Server{
		Addr:              cfg.HTTP.ListenAddress(),
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Voice channel; the upgrade needs the raw ResponseWriter
	mux.Handle("/ws", h.ws)

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/api", h.withMetrics("/api", h.handleAPI))

	// Monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSession))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	// UI bundle assets
	if dir := h.config.HTTP.StaticDir; dir != "" {
		assets := filepath.Join(dir, "_app")
		if info, err := os.Stat(assets); err == nil && info.IsDir() {
			mux.Handle("/_app/", http.StripPrefix("/_app/", http.FileServer(http.Dir(assets))))
		}
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the root handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withCORS allows any origin, the UI may be served from elsewhere
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop ends all sessions and gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	h.deps.Registry.Stop()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	if err := h.ws.Wait(ctx); err != nil {
		return fmt.Errorf("voice connections did not close: %w", err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]interface{}{
		"sessions": map[string]interface{}{
			"status": "running",
			"active": h.deps.Registry.GetActiveSessionCount(),
		},
	}
	for name, source := range h.deps.Stats {
		stats := source.GetStats()
		components[name] = map[string]interface{}{
			"status":         "running",
			"total_requests": stats.TotalRequests,
			"success_rate":   stats.SuccessRate,
		}
	}

	writeJSON(w, map[string]interface{}{
		"status":     "healthy",
		"service":    serviceName,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"components": components,
	})
}

// handleAPI implements the /api endpoint
func (h *HTTPServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.apiInfo())
}

func (h *HTTPServer) apiInfo() map[string]interface{} {
	return map[string]interface{}{
		"message":            "The Donna Voice Chat API",
		"websocket_endpoint": "/ws",
		"endpoints": map[string]interface{}{
			"GET /":              "Web UI, or this document when no UI is bundled",
			"GET /api":           "API information",
			"GET /health":        "Service health check",
			"GET /ws":            "Voice channel (WebSocket)",
			"GET /sessions":      "List live conversation sessions",
			"GET /sessions/{id}": "Get one live session",
			"GET /config":        "Get service configuration",
			"GET /stats":         "Get provider call statistics",
			"GET /metrics":       "Prometheus metrics",
		},
	}
}

// handleRoot serves the UI entry page when bundled, API info otherwise
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if dir := h.config.HTTP.StaticDir; dir != "" {
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
	}

	writeJSON(w, h.apiInfo())
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.deps.Registry.GetAllSessionInfo()

	writeJSON(w, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSession implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := h.deps.Registry.GetSession(r.PathValue("id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, sess.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config

	// API key is never exposed
	writeJSON(w, map[string]interface{}{
		"http": map[string]interface{}{
			"port":       c.HTTP.Port,
			"address":    c.HTTP.Address,
			"static_dir": c.HTTP.StaticDir,
		},
		"websocket": map[string]interface{}{
			"max_message_bytes": c.WebSocket.MaxMessageBytes,
			"write_timeout":     c.WebSocket.WriteTimeout,
			"pong_timeout":      c.WebSocket.PongTimeout,
			"ping_interval":     c.WebSocket.PingInterval,
		},
		"session": map[string]interface{}{
			"min_utterance_bytes": c.Session.MinUtteranceBytes,
			"history_limit":       c.Session.HistoryLimit,
			"inbound_buffer":      c.Session.InboundBuffer,
			"outbound_buffer":     c.Session.OutboundBuffer,
			"max_sessions":        c.Session.MaxSessions,
		},
		"provider": map[string]interface{}{
			"base_url":       c.Provider.BaseURL,
			"max_concurrent": c.Provider.MaxConcurrent,
		},
		"transcription": map[string]interface{}{
			"model":        c.Transcription.Model,
			"input_format": c.Transcription.InputFormat,
			"language":     c.Transcription.Language,
			"timeout":      c.Transcription.Timeout,
		},
		"persona": map[string]interface{}{
			"name":          c.Persona.Name,
			"model":         c.Persona.Model,
			"prompt_file":   c.Persona.PromptFile,
			"context_turns": c.Persona.ContextTurns,
			"temperature":   c.Persona.Temperature,
			"max_tokens":    c.Persona.MaxTokens,
			"timeout":       c.Persona.Timeout,
		},
		"synthesis": map[string]interface{}{
			"model":   c.Synthesis.Model,
			"voice":   c.Synthesis.Voice,
			"format":  c.Synthesis.Format,
			"timeout": c.Synthesis.Timeout,
		},
		"telemetry": map[string]interface{}{
			"enabled":      c.Telemetry.Enabled,
			"endpoint":     c.Telemetry.Endpoint,
			"service_name": c.Telemetry.ServiceName,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stages := make(map[string]provider.ClientStats, len(h.deps.Stats))
	for name, source := range h.deps.Stats {
		stages[name] = source.GetStats()
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.deps.Registry.GetActiveSessionCount(),
		},
		"stages": stages,
	}
	if h.deps.Limiter != nil {
		stats["provider"] = map[string]interface{}{
			"active_requests": h.deps.Limiter.Active(),
			"max_concurrent":  h.deps.Limiter.Max(),
		}
	}

	writeJSON(w, stats)
}
