package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/whitewookie32/TheDonna/internal/provider"
)

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of a conversation
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Responder produces the persona's next turn. history is oldest first and
// is never modified.
type Responder interface {
	Reply(ctx context.Context, utterance string, history []Turn) (string, error)
}

// Config contains generation parameters
type Config struct {
	Model        string
	Instruction  string // system prompt, always sent first
	ContextTurns int    // most recent turns forwarded with each request
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// Client generates persona replies over an OpenAI-compatible chat API
type Client struct {
	config  Config
	api     *openai.Client
	limiter *provider.Limiter
	stats   *provider.Stats
	logger  *slog.Logger
}

var _ Responder = (*Client)(nil)

// NewClient creates a new persona client
func NewClient(cfg Config, api *openai.Client, limiter *provider.Limiter, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("API client cannot be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %f", cfg.Temperature)
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.ContextTurns < 0 {
		cfg.ContextTurns = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
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

// Reply asks the model for the next persona turn.
// Failures are returned as *provider.Error with stage generation.
func (c *Client) Reply(ctx context.Context, utterance string, history []Turn) (string, error) {
	messages := c.buildMessages(utterance, history)

	c.logger.Debug("Sending chat request",
		slog.String("model", c.config.Model),
		slog.Int("messages", len(messages)),
	)

	return provider.Call(ctx, c.limiter, c.stats, provider.StageGeneration, c.config.Timeout,
		func(ctx context.Context) (string, error) {
			resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model:       openai.ChatModel(c.config.Model),
				Messages:    messages,
				Temperature: openai.Float(c.config.Temperature),
				MaxTokens:   openai.Int(int64(c.config.MaxTokens)),
			})
			if err != nil {
				return "", err
			}

			if len(resp.Choices) == 0 {
				return "", provider.NewError(provider.StageGeneration, provider.KindMalformedResponse,
					"no choices returned")
			}
			text := strings.TrimSpace(resp.Choices[0].Message.Content)
			if text == "" {
				return "", provider.NewError(provider.StageGeneration, provider.KindMalformedResponse,
					"empty reply")
			}
			return text, nil
		})
}

// buildMessages prepends the persona instruction to the bounded history window
func (c *Client) buildMessages(utterance string, history []Turn) []openai.ChatCompletionMessageParamUnion {
	window := Window(history, c.config.ContextTurns)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(window)+2)
	messages = append(messages, openai.SystemMessage(c.config.Instruction))
	for _, turn := range window {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(utterance))
	return messages
}

// Window returns the last n turns of history
func Window(history []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// GetStats returns current client statistics
func (c *Client) GetStats() provider.ClientStats {
	return c.stats.Snapshot()
}
