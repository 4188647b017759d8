package synthesis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/whitewookie32/TheDonna/internal/provider"
)

// Synthesizer converts reply text to an opaque audio payload
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	// Format names the container of the returned audio, e.g. "mp3"
	Format() string
}

// Config contains text-to-speech parameters
type Config struct {
	Model   string
	Voice   string
	Format  string
	Timeout time.Duration
}

// Client synthesizes speech over an OpenAI-compatible API
type Client struct {
	config  Config
	api     *openai.Client
	limiter *provider.Limiter
	stats   *provider.Stats
	logger  *slog.Logger
}

var _ Synthesizer = (*Client)(nil)

// NewClient creates a new synthesis client
func NewClient(cfg Config, api *openai.Client, limiter *provider.Limiter, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("API client cannot be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Voice == "" {
		return nil, fmt.Errorf("voice cannot be empty")
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
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

// Synthesize returns the full audio body for text.
// Failures are returned as *provider.Error with stage synthesis.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	c.logger.Debug("Sending speech request",
		slog.String("model", c.config.Model),
		slog.String("voice", c.config.Voice),
		slog.Int("text_length", len(text)),
	)

	return provider.Call(ctx, c.limiter, c.stats, provider.StageSynthesis, c.config.Timeout,
		func(ctx context.Context) ([]byte, error) {
			resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
				Input:          text,
				Model:          openai.SpeechModel(c.config.Model),
				Voice:          openai.AudioSpeechNewParamsVoice(c.config.Voice),
				ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(c.config.Format),
			})
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			audio, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read speech body: %w", err)
			}
			if len(audio) == 0 {
				return nil, provider.NewError(provider.StageSynthesis, provider.KindProviderFailure,
					"provider returned no audio")
			}
			return audio, nil
		})
}

// Format returns the configured output container
func (c *Client) Format() string {
	return c.config.Format
}

// GetStats returns current client statistics
func (c *Client) GetStats() provider.ClientStats {
	return c.stats.Snapshot()
}
