package transcription

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/whitewookie32/TheDonna/internal/audio"
	"github.com/whitewookie32/TheDonna/internal/provider"
)

// Transcriber converts one utterance of opaque audio to text.
// An empty string with a nil error means nothing intelligible was said.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Config contains transcription client configuration
type Config struct {
	Model       string
	Language    string        // optional ISO-639-1 hint
	InputFormat audio.Format  // assumed when the container cannot be sniffed
	Timeout     time.Duration // per call
}

// Client provides speech-to-text over an OpenAI-compatible API
type Client struct {
	config  Config
	api     *openai.Client
	limiter *provider.Limiter
	stats   *provider.Stats
	logger  *slog.Logger
}

var _ Transcriber = (*Client)(nil)

// NewClient creates a new transcription client
func NewClient(cfg Config, api *openai.Client, limiter *provider.Limiter, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("API client cannot be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InputFormat == audio.FormatUnknown {
		cfg.InputFormat = audio.FormatWebM
	}
	if limiter == nil {
		limiter = provider.NewLimiter(10)
	}

	return &Client{
		config:  cfg,
		api:     api,
		limiter: limiter,
		stats:   provider.NewStats(),
		logger:  logger,
	}, nil
}

// Transcribe uploads the buffer unmodified and returns the trimmed transcript.
// Failures are returned as *provider.Error with stage transcription.
func (c *Client) Transcribe(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", provider.NewError(provider.StageTranscription, provider.KindEmptyResult, "no audio to transcribe")
	}

	format := audio.DetectFormat(data)
	if format == audio.FormatUnknown {
		format = c.config.InputFormat
	}

	attrs := []slog.Attr{
		slog.String("model", c.config.Model),
		slog.String("format", string(format)),
		slog.Int("audio_size", len(data)),
	}
	if format == audio.FormatWAV {
		if info, err := audio.ReadWAVInfo(data); err != nil {
			attrs = append(attrs, slog.String("wav_header_error", err.Error()))
		} else {
			attrs = append(attrs,
				slog.Int("sample_rate", int(info.SampleRate)),
				slog.Int("channels", int(info.Channels)),
				slog.Float64("duration_seconds", info.Duration),
			)
		}
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "Sending transcription request", attrs...)

	return provider.Call(ctx, c.limiter, c.stats, provider.StageTranscription, c.config.Timeout,
		func(ctx context.Context) (string, error) {
			params := openai.AudioTranscriptionNewParams{
				File:  openai.File(bytes.NewReader(data), format.Filename(), format.ContentType()),
				Model: openai.AudioModel(c.config.Model),
			}
			if c.config.Language != "" {
				params.Language = openai.String(c.config.Language)
			}

			resp, err := c.api.Audio.Transcriptions.New(ctx, params)
			if err != nil {
				return "", err
			}
			if !resp.JSON.Text.Valid() {
				return "", provider.NewError(provider.StageTranscription, provider.KindEmptyResult,
					"response has no text")
			}
			return strings.TrimSpace(resp.Text), nil
		})
}

// GetStats returns current client statistics
func (c *Client) GetStats() provider.ClientStats {
	return c.stats.Snapshot()
}
