package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/config"
	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	systemPrompt       = "You are a senior software engineer generating one file of a small project at a time."
)

// Config configures the LLM-backed Client.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      config.Secret
	Temperature float64
	MaxTokens   int
	RateLimit   float64
	Burst       int
	MaxRetries  int
	Timeout     time.Duration
}

// ConfigFrom maps the generation section of the application config.
func ConfigFrom(cfg config.GenerationConfig) Config {
	return Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout.Duration(),
	}
}

// Client implements Generator on top of a langchaingo model.
type Client struct {
	model       llms.Model
	cfg         Config
	limiter     *rate.Limiter
	logger      *zap.Logger
	baseBackoff time.Duration
}

// NewClient builds a Client for the configured provider.
// A missing API key fails here, before any stage runs.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	switch cfg.Provider {
	case "", "openai":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY or generation.api_key", ErrMissingCredential)
		}
	case "gemini":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: set GEMINI_API_KEY or generation.api_key", ErrMissingCredential)
		}
		model, err := NewGeminiModel(context.Background(), cfg.APIKey.Value(), cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return NewClientWithModel(model, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey.Value())}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewClientWithModel(llm, cfg, logger), nil
}

// NewClientWithModel wraps an existing model. Used by tests and alternative providers.
func NewClientWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		model:       model,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
		baseBackoff: defaultBaseBackoff,
	}
}

// Generate renders the role prompt and asks the model for a completion.
// Transient failures are retried with exponential backoff.
func (c *Client) Generate(ctx context.Context, req Request) (extract.Response, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return extract.None(), err
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying generation call",
				zap.String("role", string(req.Role)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return extract.None(), ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return extract.None(), fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.call(ctx, messages)
		if err == nil {
			c.logger.Debug("generation call complete",
				zap.String("role", string(req.Role)),
				zap.Int("choices", len(resp.Choices)))
			return toResponse(resp), nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return extract.None(), fmt.Errorf("%s generation: %w", req.Role, err)
		}
	}

	return extract.None(), fmt.Errorf("%s generation: max retries exceeded: %w", req.Role, lastErr)
}

func (c *Client) call(ctx context.Context, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	opts := []llms.CallOption{llms.WithTemperature(c.cfg.Temperature)}
	if c.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.cfg.MaxTokens))
	}
	return c.model.GenerateContent(ctx, messages, opts...)
}

// toResponse maps model choices onto a List of Text responses.
func toResponse(resp *llms.ContentResponse) extract.Response {
	if resp == nil {
		return extract.None()
	}
	items := make([]extract.Response, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		if choice == nil {
			items = append(items, extract.None())
			continue
		}
		items = append(items, extract.FromText(choice.Content))
	}
	return extract.FromList(items...)
}

// isRetryable treats timeouts, throttling and server-side failures as transient.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "status code: 5", "timeout", "connection reset", "eof", "unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
