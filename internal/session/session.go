package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/whitewookie32/TheDonna/internal/audio"
	"github.com/whitewookie32/TheDonna/internal/metrics"
	"github.com/whitewookie32/TheDonna/internal/persona"
	"github.com/whitewookie32/TheDonna/internal/protocol"
	"github.com/whitewookie32/TheDonna/internal/provider"
	"github.com/whitewookie32/TheDonna/internal/synthesis"
	"github.com/whitewookie32/TheDonna/internal/telemetry"
	"github.com/whitewookie32/TheDonna/internal/transcription"
)

// ErrClosed is returned by Submit once the session has stopped
var ErrClosed = errors.New("session closed")

// Utterance outcomes, used as metric labels
const (
	outcomeCompleted           = "completed"
	outcomeTooShort            = "too_short"
	outcomeTranscriptionFailed = "transcription_failed"
	outcomeCouldNotUnderstand  = "could_not_understand"
	outcomeChatFailed          = "chat_failed"
	outcomeSpeechFailed        = "speech_failed"
	outcomeCancelled           = "cancelled"
)

// Config contains per-session pipeline parameters
type Config struct {
	MinUtteranceBytes int
	HistoryLimit      int
	PersonaName       string
	InboundBuffer     int
	MaxSessions       int // registry cap, 0 means unlimited
}

// Pipeline bundles the three capability clients an utterance passes through
type Pipeline struct {
	Transcriber transcription.Transcriber
	Responder   persona.Responder
	Synthesizer synthesis.Synthesizer
}

func (p Pipeline) validate() error {
	if p.Transcriber == nil {
		return fmt.Errorf("transcriber cannot be nil")
	}
	if p.Responder == nil {
		return fmt.Errorf("responder cannot be nil")
	}
	if p.Synthesizer == nil {
		return fmt.Errorf("synthesizer cannot be nil")
	}
	return nil
}

// Sink delivers outbound events to the client in the order Send is called
type Sink interface {
	Send(ctx context.Context, event protocol.Outbound) error
}

// Dependencies are the collaborators of one session
type Dependencies struct {
	Pipeline Pipeline
	Sink     Sink
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer // optional, global provider when nil
}

// Info is a point-in-time view of a session for diagnostics
type Info struct {
	ID                string    `json:"id"`
	State             string    `json:"state"`
	Turns             int       `json:"turns"`
	BufferedFragments int       `json:"buffered_fragments"`
	BufferedBytes     int       `json:"buffered_bytes"`
	Utterances        uint64    `json:"utterances"`
	StartedAt         time.Time `json:"started_at"`
	LastActivity      time.Time `json:"last_activity"`
}

// stageResult is the outcome of one capability call: a value or one error
type stageResult struct {
	stage   provider.Stage
	text    string
	audio   []byte
	err     *provider.Error
	elapsed time.Duration
}

// utterance tracks the pipeline run currently in flight
type utterance struct {
	ctx        context.Context // carries the utterance span
	span       trace.Span
	transcript string
}

// Session is one conversation over one connection. All conversation state
// is owned by the goroutine executing Run; other goroutines interact only
// through Submit, Stop and Info.
type Session struct {
	id       string
	cfg      Config
	pipeline Pipeline
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	// owned by Run
	state       State
	accumulator *audio.Accumulator
	history     *History
	current     *utterance
	utterances  uint64

	inbound  chan []byte
	results  chan stageResult
	stages   sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	startedAt time.Time
	infoMu    sync.RWMutex
	info      Info
}

// New creates a session in the Idle state. Call Run to start it.
func New(id string, cfg Config, deps Dependencies) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if err := deps.Pipeline.validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer(nil)
	}
	if cfg.MinUtteranceBytes <= 0 {
		cfg.MinUtteranceBytes = 1000
	}
	if cfg.PersonaName == "" {
		cfg.PersonaName = "Donna"
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 64
	}

	now := time.Now()
	s := &Session{
		id:          id,
		cfg:         cfg,
		pipeline:    deps.Pipeline,
		sink:        deps.Sink,
		logger:      deps.Logger.With(slog.String("session_id", id)),
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		state:       StateIdle,
		accumulator: audio.NewAccumulator(),
		history:     NewHistory(cfg.HistoryLimit),
		inbound:     make(chan []byte, cfg.InboundBuffer),
		results:     make(chan stageResult, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		startedAt:   now,
	}
	s.publish()
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Submit hands one raw inbound frame to the session. It blocks while the
// inbound queue is full.
func (s *Session) Submit(ctx context.Context, frame []byte) error {
	select {
	case s.inbound <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Stop asks Run to return. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when Run has returned and no stage call is left running
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns the latest published diagnostics view
func (s *Session) Info() Info {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

// Run processes inbound frames and stage results until ctx is cancelled,
// Stop is called or the sink fails. Cancelling ctx aborts any in-flight
// stage call; its result is discarded.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.stages.Wait()
		s.abandonUtterance()
		s.publish()
		close(s.done)
	}()

	s.logger.Info("Session started")

	for {
		var err error

		select {
		case <-ctx.Done():
			s.logger.Info("Session context cancelled", slog.String("state", s.state.String()))
			return ctx.Err()
		case <-s.stop:
			s.logger.Info("Session stopped", slog.String("state", s.state.String()))
			return nil
		case frame := <-s.inbound:
			err = s.handleFrame(ctx, frame)
		case res := <-s.results:
			err = s.handleResult(ctx, res)
		}

		if err != nil {
			s.logger.Info("Session ending", slog.String("error", err.Error()))
			return err
		}
		s.publish()
	}
}

// handleFrame decodes and dispatches one inbound frame
func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	event, err := protocol.DecodeInbound(frame)
	if err != nil {
		s.metrics.RecordProtocolError()
		s.logger.Warn("Malformed inbound message",
			slog.Int("frame_size", len(frame)),
			slog.String("error", err.Error()),
		)
		return s.emit(ctx, protocol.Error(protocol.ReasonMalformedMessage, "Invalid message: "+err.Error()))
	}

	s.metrics.RecordInbound(event.Type)

	switch event.Type {
	case protocol.TypePing:
		return s.emit(ctx, protocol.Pong())
	case protocol.TypeAudioChunk:
		return s.handleAudio(ctx, event.Audio)
	case protocol.TypeEndUtterance:
		return s.handleEndUtterance(ctx)
	default:
		return nil
	}
}

// handleAudio buffers a fragment. During processing it belongs to the next
// utterance and the state is unchanged.
func (s *Session) handleAudio(ctx context.Context, fragment []byte) error {
	s.accumulator.Append(fragment)
	s.metrics.RecordFragment(len(fragment))
	s.transition(InputAudio)

	s.logger.Debug("Audio fragment buffered",
		slog.Int("fragment_size", len(fragment)),
		slog.Int("buffered_fragments", s.accumulator.Len()),
		slog.String("state", s.state.String()),
	)

	return s.emit(ctx, protocol.ChunkReceived(s.accumulator.Len()))
}

// handleEndUtterance flushes the buffer and starts the pipeline
func (s *Session) handleEndUtterance(ctx context.Context) error {
	if !AcceptsUtterance(s.state) {
		s.logger.Debug("Utterance boundary rejected while processing",
			slog.String("state", s.state.String()),
			slog.Int("buffered_fragments", s.accumulator.Len()),
		)
		return s.emit(ctx, protocol.Error(protocol.ReasonBusy, "Still working on your last message, please wait"))
	}

	data := s.accumulator.Flush()
	s.metrics.RecordUtteranceFlushed(len(data))

	if len(data) < s.cfg.MinUtteranceBytes {
		s.transition(InputShortUtterance)
		s.metrics.RecordUtterance(outcomeTooShort)
		s.logger.Info("Utterance too short",
			slog.Int("bytes", len(data)),
			slog.Int("min_bytes", s.cfg.MinUtteranceBytes),
		)
		return s.emit(ctx, protocol.Error(protocol.ReasonTooShort, "Audio too short, please try again"))
	}

	s.transition(InputEndUtterance)
	s.utterances++

	uctx, span := s.tracer.Start(ctx, "utterance", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("utterance.bytes", len(data)),
		attribute.Int64("utterance.seq", int64(s.utterances)),
	))
	s.current = &utterance{ctx: uctx, span: span}

	s.logger.Info("Processing utterance", slog.Int("bytes", len(data)))

	if err := s.emit(ctx, protocol.Status(protocol.StageTranscribing, "Transcribing...")); err != nil {
		return err
	}

	s.startStage(provider.StageTranscription, func(ctx context.Context) (stageResult, error) {
		text, err := s.pipeline.Transcriber.Transcribe(ctx, data)
		return stageResult{text: text}, err
	})
	return nil
}

// startStage runs one capability call off the event loop. At most one stage
// is in flight per session, so the buffered results channel never blocks.
func (s *Session) startStage(stage provider.Stage, call func(ctx context.Context) (stageResult, error)) {
	stageCtx, span := s.tracer.Start(s.current.ctx, "stage."+string(stage))

	s.stages.Add(1)
	go func() {
		defer s.stages.Done()

		start := time.Now()
		res, err := call(stageCtx)
		res.stage = stage
		res.elapsed = time.Since(start)

		if err != nil {
			res.err = provider.Classify(stage, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(res.err.Kind))
		}
		span.End()

		s.results <- res
	}()
}

// handleResult advances the pipeline after a stage call returns
func (s *Session) handleResult(ctx context.Context, res stageResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outcome := "ok"
	if res.err != nil {
		outcome = string(res.err.Kind)
		s.logger.Warn("Pipeline stage failed",
			slog.String("stage", string(res.stage)),
			slog.String("kind", string(res.err.Kind)),
			slog.Duration("elapsed", res.elapsed),
			slog.String("error", res.err.Error()),
		)
	}
	s.metrics.RecordStage(string(res.stage), outcome, res.elapsed.Seconds())

	switch res.stage {
	case provider.StageTranscription:
		return s.afterTranscription(ctx, res)
	case provider.StageGeneration:
		return s.afterGeneration(ctx, res)
	case provider.StageSynthesis:
		return s.afterSynthesis(ctx, res)
	default:
		return fmt.Errorf("unknown stage %q", res.stage)
	}
}

func (s *Session) afterTranscription(ctx context.Context, res stageResult) error {
	if res.err != nil {
		return s.finish(ctx, InputStageFailed, outcomeTranscriptionFailed,
			protocol.Error(protocol.ReasonTranscriptionFailed, "Transcription failed: "+res.err.Detail()))
	}
	if res.text == "" {
		return s.finish(ctx, InputStageFailed, outcomeCouldNotUnderstand,
			protocol.Error(protocol.ReasonCouldNotUnderstand, "Could not understand audio"))
	}

	s.logger.Info("Transcript received", slog.String("transcript", res.text))
	s.current.transcript = res.text

	if err := s.emit(ctx, protocol.Transcript(res.text)); err != nil {
		return err
	}
	s.transition(InputStageSucceeded)
	if err := s.emit(ctx, protocol.Status(protocol.StageThinking, s.cfg.PersonaName+" is thinking...")); err != nil {
		return err
	}

	transcript := res.text
	history := s.history.Turns()
	s.startStage(provider.StageGeneration, func(ctx context.Context) (stageResult, error) {
		reply, err := s.pipeline.Responder.Reply(ctx, transcript, history)
		return stageResult{text: reply}, err
	})
	return nil
}

func (s *Session) afterGeneration(ctx context.Context, res stageResult) error {
	if res.err != nil {
		return s.finish(ctx, InputStageFailed, outcomeChatFailed,
			protocol.Error(protocol.ReasonChatFailed, "Chat failed: "+res.err.Detail()))
	}

	// Only a completed round trip enters history
	s.history.AppendExchange(s.current.transcript, res.text)
	s.logger.Info("Reply generated",
		slog.String("reply", res.text),
		slog.Int("history_turns", s.history.Len()),
	)

	if err := s.emit(ctx, protocol.ResponseText(res.text)); err != nil {
		return err
	}
	s.transition(InputStageSucceeded)
	if err := s.emit(ctx, protocol.Status(protocol.StageSpeaking, "Speaking...")); err != nil {
		return err
	}

	reply := res.text
	s.startStage(provider.StageSynthesis, func(ctx context.Context) (stageResult, error) {
		audio, err := s.pipeline.Synthesizer.Synthesize(ctx, reply)
		return stageResult{audio: audio}, err
	})
	return nil
}

func (s *Session) afterSynthesis(ctx context.Context, res stageResult) error {
	if res.err != nil {
		// the reply stays committed to history
		return s.finish(ctx, InputStageFailed, outcomeSpeechFailed,
			protocol.Error(protocol.ReasonSpeechFailed, "Speech generation failed: "+res.err.Detail()))
	}

	return s.finish(ctx, InputStageSucceeded, outcomeCompleted,
		protocol.AudioResponse(res.audio, s.pipeline.Synthesizer.Format()))
}

// finish ends the in-flight utterance with its terminal event
func (s *Session) finish(ctx context.Context, input Input, outcome string, event protocol.Outbound) error {
	s.transition(input)
	if s.state == StateIdle && s.accumulator.IsActive() {
		// audio arrived while processing
		s.transition(InputAudio)
	}

	if s.current != nil {
		s.current.span.SetAttributes(attribute.String("utterance.outcome", outcome))
		if outcome != outcomeCompleted {
			s.current.span.SetStatus(codes.Error, outcome)
		}
		s.current.span.End()
		s.current = nil
	}
	s.metrics.RecordUtterance(outcome)

	s.logger.Info("Utterance finished",
		slog.String("outcome", outcome),
		slog.String("state", s.state.String()),
	)

	return s.emit(ctx, event)
}

// abandonUtterance closes the books on an utterance cut short by shutdown
func (s *Session) abandonUtterance() {
	if s.current == nil {
		return
	}
	s.current.span.SetStatus(codes.Error, outcomeCancelled)
	s.current.span.End()
	s.current = nil
	s.metrics.RecordUtterance(outcomeCancelled)
}

// transition applies input to the state machine. Invalid inputs leave the
// state unchanged.
func (s *Session) transition(input Input) {
	next, ok := Next(s.state, input)
	if !ok {
		s.logger.Warn("Invalid state transition ignored",
			slog.String("state", s.state.String()),
			slog.String("input", input.String()),
		)
		return
	}
	s.state = next
}

func (s *Session) emit(ctx context.Context, event protocol.Outbound) error {
	if err := s.sink.Send(ctx, event); err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}
	s.metrics.RecordOutbound(event.Type)
	return nil
}

// publish refreshes the diagnostics view from loop-owned state
func (s *Session) publish() {
	stats := s.accumulator.Stats()

	s.infoMu.Lock()
	defer s.infoMu.Unlock()

	s.info = Info{
		ID:                s.id,
		State:             s.state.String(),
		Turns:             s.history.Len(),
		BufferedFragments: stats.Fragments,
		BufferedBytes:     stats.Bytes,
		Utterances:        s.utterances,
		StartedAt:         s.startedAt,
		LastActivity:      stats.LastActivity,
	}
}
