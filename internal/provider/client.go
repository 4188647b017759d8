package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/whitewookie32/TheDonna/internal/config"
)

// NewHTTPClient returns the pooled HTTP client shared by all capability
// clients. Requests are traced through otelhttp; per-call deadlines come from
// the caller's context, so the client itself has no timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}

// NewOpenAIClient builds an OpenAI-compatible API client for the configured
// provider. Automatic retries are disabled: a failed stage is reported to the
// user, who speaks again.
func NewOpenAIClient(cfg config.ProviderConfig, httpClient *http.Client) (*openai.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &client, nil
}
