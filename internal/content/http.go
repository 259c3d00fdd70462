package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// HTTPGenerator asks a remote content service to write articles. The
// service accepts a JSON Request on POST {baseURL}/generate and answers
// with a JSON Article.
type HTTPGenerator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	attempts   uint
	delay      time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// HTTPOptions configures an HTTPGenerator
type HTTPOptions struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// NewHTTPGenerator creates a client for the content service
func NewHTTPGenerator(opts HTTPOptions, logger *slog.Logger) *HTTPGenerator {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGenerator{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		attempts:   opts.Attempts,
		delay:      opts.Delay,
		maxDelay:   opts.MaxDelay,
		logger:     logger.With("component", "content"),
	}
}

// StatusError is a non-2xx answer from the content service
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("content service: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("content service: HTTP %d", e.StatusCode)
}

// retryable reports whether a failed call may succeed if repeated
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// Generate calls the service, retrying transport errors, 429 and 5xx
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Article, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var article *Article
	err = retry.Do(
		func() error {
			a, err := g.call(ctx, body)
			if err != nil {
				if !retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			article = a
			return nil
		},
		retry.Attempts(g.attempts),
		retry.Delay(g.delay),
		retry.MaxDelay(g.maxDelay),
		retry.MaxJitter(g.delay/2+time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("content generation failed, retrying", "attempt", n+1, "keyword", req.Keyword, "error", err)
		}),
		retry.RetryIf(retryable),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return article, nil
}

func (g *HTTPGenerator) call(ctx context.Context, body []byte) (*Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	var article Article
	if err := json.NewDecoder(resp.Body).Decode(&article); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
	}
	if article.Title == "" || article.Content == "" {
		return nil, retry.Unrecoverable(errors.New("content service returned an empty article"))
	}
	return &article, nil
}
