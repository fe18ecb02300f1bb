package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/taskr/internal/retry"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

type retryingClient struct {
	next    Client
	policy  retry.Config
	timeout time.Duration
}

// WithRetry wraps c so every call gets a per-attempt timeout and transient
// failures are retried with backoff.
func WithRetry(c Client, policy retry.Config, timeout time.Duration) Client {
	return &retryingClient{next: c, policy: policy, timeout: timeout}
}

func (r *retryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*Response, error) {
		return retry.WithTimeout(ctx, r.timeout, func(ctx context.Context) (*Response, error) {
			return r.next.Complete(ctx, req)
		})
	})
}
