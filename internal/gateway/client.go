package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/eventpay/internal/metrics"
)

const (
	defaultBaseURL        = "https://api.yookassa.ru/v3"
	defaultMaxAttempts    = 2
	defaultRequestTimeout = 60 * time.Second
	defaultClientTimeout  = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

type Config struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	// Test marks a sandbox shop; responses from the other mode are logged.
	Test bool

	MaxAttempts    int
	RequestTimeout time.Duration
	// Backoff returns the pause after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// Client talks to the payment gateway's REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	auth    string
	hc      *http.Client
	logger  *slog.Logger
	cfg     Config
}

// NewHTTPClient builds the shared transport used for gateway calls.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultClientTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func NewClient(cfg Config, hc *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.Backoff == nil {
		cfg.Backoff = func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		}
	}

	if hc == nil {
		hc = NewHTTPClient()
	}

	creds := cfg.ShopID + ":" + cfg.SecretKey

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)),
		hc:      hc,
		logger:  logger.With("component", "gateway"),
		cfg:     cfg,
	}
}

// CreatePayment creates a payment at the gateway.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: payment parameters.
//   - idempotenceKey: key that lets the gateway dedupe repeats of the same logical
//     payment; a fresh one is generated when empty. The same key is sent on every attempt.
//
// Returns:
//   - *Payment: the created payment.
//   - error: ErrBadRequest, ErrUnavailable, ErrTimeout or ErrService.
func (c *Client) CreatePayment(
	ctx context.Context,
	req CreatePaymentRequest,
	idempotenceKey string,
) (*Payment, error) {
	const op = "gateway.Client.CreatePayment"

	if idempotenceKey == "" {
		idempotenceKey = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var p Payment
	start := time.Now()

	err = c.do(ctx, http.MethodPost, "/payments", body, idempotenceKey, &p)
	metrics.GatewayRequestDuration.
		WithLabelValues("create_payment", outcome(err)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if p.Test != c.cfg.Test {
		c.logger.Warn("gateway test mode mismatch",
			"payment_id", p.ID,
			"payment_test", p.Test,
			"configured_test", c.cfg.Test,
		)
	}

	return &p, nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body []byte,
	idempotenceKey string,
	out any,
) error {
	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, method, path, body, idempotenceKey, out)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !isTimeout(err) {
			return err
		}

		c.logger.Warn("gateway request timed out",
			"path", path,
			"attempt", attempt,
			"idempotence_key", idempotenceKey,
			"error", err,
		)

		if attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
		}

		metrics.GatewayRetries.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Backoff(attempt)):
		}
	}
}

func (c *Client) attempt(
	ctx context.Context,
	method, path string,
	body []byte,
	idempotenceKey string,
	out any,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrService, err)
	}

	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return err
		}
		return fmt.Errorf("%w: read body: %v", ErrService, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrService, err)
		}
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		apiErr := newAPIError(resp.StatusCode, raw, ErrBadRequest)
		c.logger.Error("gateway client error",
			"path", path,
			"status", resp.StatusCode,
			"code", apiErr.Code,
			"body", apiErr.Body,
		)
		return apiErr

	case resp.StatusCode >= 500:
		c.logger.Error("gateway server error", "path", path, "status", resp.StatusCode)
		return newAPIError(resp.StatusCode, raw, ErrUnavailable)

	default:
		return newAPIError(resp.StatusCode, raw, ErrService)
	}
}

func newAPIError(status int, raw []byte, kind error) *APIError {
	e := &APIError{StatusCode: status, Body: string(raw), kind: kind}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		e.Code = eb.Code
		e.Description = eb.Description
	}

	return e
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
