package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/httpclient"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// upstream payloads larger than this are rejected
const maxBodyBytes = 64 << 20

type ClientConfig struct {
	// Name labels the breaker and the upstream latency metric.
	Name string

	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// nil means DefaultCircuitBreakerConfig(Name)
	CircuitBreaker *CircuitBreakerConfig

	// nil means httpclient.NewOutbound()
	HTTPClient *http.Client
}

func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Client fetches upstream payloads. 5xx and transport errors are retried with
// exponential backoff; 4xx responses fail immediately.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[[]byte]
	config         ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	cbCfg := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbCfg = *cfg.CircuitBreaker
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpclient.NewOutbound()
	}
	return &Client{
		httpClient:     hc,
		circuitBreaker: NewCircuitBreaker[[]byte](cbCfg),
		config:         cfg,
	}
}

// Get fetches rawURL and returns the response body of a 2xx reply.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	var body []byte
	operation := func() error {
		b, err := c.circuitBreaker.Execute(func() ([]byte, error) {
			return c.fetchOnce(ctx, rawURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s: %w", c.config.Name, ErrCircuitOpen))
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	observability.ObserveUpstreamLatency(c.config.Name, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s upstream: %w", c.config.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Upstream: c.config.Name, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.config.Name, err)
	}
	if len(b) > maxBodyBytes {
		return nil, backoff.Permanent(fmt.Errorf("%s: response exceeds %d bytes", c.config.Name, maxBodyBytes))
	}
	return b, nil
}

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Upstream   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s upstream status %d %s", e.Upstream, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}
