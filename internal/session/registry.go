package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/whitewookie32/TheDonna/internal/metrics"
)

// ErrTooManySessions is returned by CreateSession when the cap is reached
var ErrTooManySessions = errors.New("too many active sessions")

// Registry tracks live sessions for diagnostics and shutdown. Sessions never
// look each other up through it.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	cfg      Config
	pipeline Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewRegistry creates an empty registry that builds sessions from cfg and
// the shared pipeline
func NewRegistry(cfg Config, pipeline Pipeline, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) (*Registry, error) {
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		metrics:  m,
		tracer:   tracer,
	}, nil
}

// CreateSession registers a new session bound to sink. The caller runs it
// and must call RemoveSession when the connection ends.
func (r *Registry) CreateSession(sink Sink) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	sess, err := New(id, r.cfg, Dependencies{
		Pipeline: r.pipeline,
		Sink:     sink,
		Logger:   r.logger,
		Metrics:  r.metrics,
		Tracer:   r.tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r.sessions[id] = sess
	r.metrics.RecordSessionStarted()

	r.logger.Info("Created conversation session",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(r.sessions)),
	)

	return sess, nil
}

// GetSession retrieves a live session
func (r *Registry) GetSession(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[id]
	return sess, exists
}

// GetActiveSessionCount returns the number of live sessions
func (r *Registry) GetActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetAllSessionInfo returns a snapshot of every live session, oldest first
func (r *Registry) GetAllSessionInfo() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, sess.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// RemoveSession stops and forgets a session
func (r *Registry) RemoveSession(id string) bool {
	r.mu.Lock()
	sess, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if !exists {
		return false
	}

	sess.Stop()
	info := sess.Info()
	duration := time.Since(info.StartedAt)
	r.metrics.RecordSessionEnded(duration.Seconds())

	r.logger.Info("Conversation session removed",
		slog.String("session_id", id),
		slog.Duration("duration", duration),
		slog.Uint64("utterances", info.Utterances),
		slog.Int("turns", info.Turns),
		slog.Int("active_sessions", remaining),
	)

	return true
}

// Stop asks every live session to end. Connection handlers remove them as
// they unwind.
func (r *Registry) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.Info("Stopping all sessions", slog.Int("active_sessions", len(r.sessions)))

	for _, sess := range r.sessions {
		sess.Stop()
	}
}
