package bilibili

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/internal/util"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

// Fetcher performs one logical GET and returns the decoded response body.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params url.Values, headers map[string]string) ([]byte, error)
}

type ClientConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	PacingInterval time.Duration
	BackoffStep    time.Duration
	Headers        map[string]string
	Cookies        map[string]string
}

// Client is the only component that talks to the network. It is safe for
// concurrent use; its configuration is never mutated after construction.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	logger     *zap.Logger
	breaker    *util.CircuitBreaker
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(httpClient *http.Client, cfg ClientConfig, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = constants.RetryConfig.MaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = constants.RetryConfig.BackoffStep
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.CrawlerDefaults.RequestTimeout
	}

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// WithBreaker makes the client fail fast while breaker is open. Only
// requests that end rate limited count as breaker failures.
func (c *Client) WithBreaker(breaker *util.CircuitBreaker) *Client {
	c.breaker = breaker
	return c
}

// Get paces every attempt, retries transport and status failures with a
// linear backoff and returns a RequestError wrapping the last failure once
// the attempts are exhausted. With a breaker, every admitted request
// settles it: success closes, a rate-limited outcome counts as a failure
// and anything else releases the trial slot.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, headers map[string]string) ([]byte, error) {
	if c.breaker == nil {
		return c.get(ctx, endpoint, params, headers)
	}
	if !c.breaker.Allow() {
		return nil, errors.NewRequestError(endpoint, params, 0, util.ErrCircuitOpen)
	}

	body, err := c.get(ctx, endpoint, params, headers)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.IsRateLimited(err):
		c.breaker.RecordFailure()
	default:
		c.breaker.Release()
	}
	return body, err
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, headers map[string]string) ([]byte, error) {
	requestURL := endpoint
	if len(params) > 0 {
		requestURL = endpoint + "?" + params.Encode()
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if c.cfg.PacingInterval > 0 {
			if err := c.sleep(ctx, c.cfg.PacingInterval); err != nil {
				return nil, err
			}
		}

		body, err := c.do(ctx, requestURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.IsRetryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.BackoffStep * time.Duration(attempt)
		c.logger.Warn("Request failed, retrying",
			zap.String("url", requestURL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.logger.Error("Request failed",
		zap.String("endpoint", endpoint),
		zap.String("params", params.Encode()),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, errors.NewRequestError(endpoint, params, attempts, lastErr)
}

func (c *Client) do(ctx context.Context, requestURL string, headers map[string]string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	for name, value := range c.cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(requestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errors.NewHTTPStatusError(resp.StatusCode, requestURL)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError(requestURL, err)
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, errors.NewTransportError(requestURL, err)
	}
	return body, nil
}

// decodeBody undoes content encodings net/http leaves in place. The comment
// list endpoint answers with raw deflate regardless of Accept-Encoding.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	var reader io.ReadCloser
	var err error

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(raw))
	case "deflate":
		if isZlibHeader(raw) {
			reader, err = zlib.NewReader(bytes.NewReader(raw))
		} else {
			reader = flate.NewReader(bytes.NewReader(raw))
		}
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s body: %w", encoding, err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", encoding, err)
	}
	return decoded, nil
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
