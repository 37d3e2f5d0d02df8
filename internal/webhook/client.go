package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kjstillabower/planthub-poller/internal/circuitbreaker"
	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/observability"
)

const (
	DefaultBaseURL  = "http://govegan.local:5678/webhook/v1"
	DefaultEndpoint = "/planthub"
	DefaultTimeout  = 30 * time.Second
	Version         = "1.0.0"
	UserAgent       = "PlantHubPoller/" + Version

	maxBodyBytes = 1 << 20
	unknownID    = "unknown"
)

// AddressingMode selects how a plant id reaches the API.
type AddressingMode string

const (
	ModePath  AddressingMode = "path"  // GET <base><endpoint>/<id>
	ModeBody  AddressingMode = "body"  // POST <base><endpoint> {"plant_id": id}
	ModeBatch AddressingMode = "batch" // GET <base><endpoint>, all plants at once
)

// ParseAddressingMode parses a configured mode. Empty means ModePath.
func ParseAddressingMode(s string) (AddressingMode, error) {
	switch m := AddressingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePath, nil
	case ModePath, ModeBody, ModeBatch:
		return m, nil
	default:
		return "", fmt.Errorf("unknown addressing mode %q (want path, body or batch)", s)
	}
}

// Fetcher opens sessions against the PlantHub API.
type Fetcher interface {
	Open(ctx context.Context) (Session, error)
	Mode() AddressingMode
}

// Session holds the connection resources for one refresh. Close must be
// called on every path once the refresh is done.
type Session interface {
	FetchPlant(ctx context.Context, plantID string) (models.PlantRecord, error)
	FetchAll(ctx context.Context) ([]models.PlantRecord, error)
	Close() error
}

// Config configures a Client.
type Config struct {
	Token    string
	BaseURL  string
	Endpoint string
	Timeout  time.Duration
	Mode     AddressingMode

	// RetryAttempts bounds attempts per call for transient failures. 1 disables retries.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCircuitBreaker routes every call through cb.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithTransport sets the base round tripper. Sessions then share it and
// Close does not tear it down.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithClock sets the clock used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the PlantHub webhook. It is safe for concurrent use and
// keeps no per-call state.
type Client struct {
	cfg        Config
	endpoint   string
	logger     *zap.Logger
	breaker    *circuitbreaker.CircuitBreaker
	transport  http.RoundTripper
	now        func() time.Time
	normalizer *Normalizer
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &Error{Kind: KindAuth, Msg: "token is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePath
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	c := &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Endpoint, "/"),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.normalizer = NewNormalizer(c.logger, c.now)
	return c, nil
}

// Mode returns the configured addressing mode.
func (c *Client) Mode() AddressingMode {
	return c.cfg.Mode
}

// Open acquires connection resources for one refresh.
func (c *Client) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindConnection, Msg: "open session", Err: err}
	}

	base := c.transport
	var owned *http.Transport
	if base == nil {
		owned = http.DefaultTransport.(*http.Transport).Clone()
		base = owned
	}

	return &session{
		c:     c,
		owned: owned,
		http: &http.Client{
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "planthub.webhook " + r.Method
				}),
			),
		},
	}, nil
}

// FetchPlant fetches one plant in a session of its own.
func (c *Client) FetchPlant(ctx context.Context, plantID string) (models.PlantRecord, error) {
	s, err := c.Open(ctx)
	if err != nil {
		return models.PlantRecord{}, err
	}
	defer s.Close()
	return s.FetchPlant(ctx, plantID)
}

// FetchAll performs one batch call in a session of its own.
func (c *Client) FetchAll(ctx context.Context) ([]models.PlantRecord, error) {
	s, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.FetchAll(ctx)
}

// Validate checks the token against the batch endpoint. Only an auth
// failure means the token is bad; other errors say nothing about it.
func (c *Client) Validate(ctx context.Context) error {
	_, err := c.FetchAll(ctx)
	return err
}

type session struct {
	c      *Client
	http   *http.Client
	owned  *http.Transport
	closed atomic.Bool
}

func (s *session) FetchPlant(ctx context.Context, plantID string) (models.PlantRecord, error) {
	mode := s.c.cfg.Mode
	if mode == ModeBatch {
		mode = ModePath
	}

	body, err := s.do(ctx, mode, plantID)
	if err != nil {
		return models.PlantRecord{}, err
	}

	rec, err := s.c.normalizer.NormalizeJSON(body, plantID)
	if err != nil {
		return models.PlantRecord{}, &Error{Kind: KindWebhook, Plant: plantID, Msg: "malformed response", Err: err}
	}
	return rec, nil
}

type batchResponse struct {
	Plants []any `json:"plants"`
}

func (s *session) FetchAll(ctx context.Context) ([]models.PlantRecord, error) {
	body, err := s.do(ctx, ModeBatch, "")
	if err != nil {
		return nil, err
	}

	var payload batchResponse
	if err := decodeJSON(body, &payload); err != nil {
		return nil, &Error{Kind: KindWebhook, Msg: "malformed batch response", Err: err}
	}

	records := make([]models.PlantRecord, 0, len(payload.Plants))
	for i, raw := range payload.Plants {
		id, ok := elementID(raw)
		if !ok {
			id = fmt.Sprintf("%s_%d", unknownID, i)
			s.c.logger.Warn("batch element without id", zap.Int("index", i), zap.String("assigned_id", id))
		}
		records = append(records, s.c.normalizer.Normalize(raw, id))
	}
	return records, nil
}

func (s *session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.owned != nil {
		s.owned.CloseIdleConnections()
	}
	return nil
}

// do runs one logical call with retries for transient failures.
func (s *session) do(ctx context.Context, mode AddressingMode, plantID string) ([]byte, error) {
	if s.closed.Load() {
		return nil, &Error{Kind: KindWebhook, Plant: plantID, Msg: "session closed"}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.c.cfg.RetryBaseDelay
	policy.MaxInterval = s.c.cfg.RetryMaxDelay
	policy.MaxElapsedTime = 0

	var (
		body    []byte
		lastErr error
		attempt int
	)
	op := func() error {
		if attempt > 0 {
			observability.WebhookRetriesTotal.Inc()
		}
		attempt++

		b, err := s.guardedCall(ctx, mode, plantID)
		if err != nil {
			lastErr = err
			if !IsTransient(err) || errors.Is(err, circuitbreaker.ErrOpen) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	retries := uint64(s.c.cfg.RetryAttempts - 1)
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
	if err == nil {
		return body, nil
	}

	// Cancellation while waiting to retry surfaces as a bare context error.
	var we *Error
	if !errors.As(err, &we) {
		if lastErr != nil {
			err = lastErr
		} else {
			err = &Error{Kind: KindConnection, Plant: plantID, Msg: "request cancelled", Err: err}
		}
	}
	observability.WebhookErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return nil, err
}

func (s *session) guardedCall(ctx context.Context, mode AddressingMode, plantID string) ([]byte, error) {
	if s.c.breaker == nil {
		return s.call(ctx, mode, plantID)
	}

	var body []byte
	err := s.c.breaker.Call(ctx, func() error {
		b, err := s.call(ctx, mode, plantID)
		body = b
		return err
	})
	var we *Error
	switch {
	case err == nil, errors.As(err, &we):
		return body, err
	case errors.Is(err, circuitbreaker.ErrOpen):
		return nil, &Error{Kind: KindConnection, Plant: plantID, Msg: "upstream unavailable", Err: err}
	default:
		return nil, &Error{Kind: KindConnection, Plant: plantID, Msg: "request cancelled", Err: err}
	}
}

func (s *session) call(ctx context.Context, mode AddressingMode, plantID string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.c.cfg.Timeout)
	defer cancel()

	req, err := s.c.buildRequest(reqCtx, mode, plantID)
	if err != nil {
		return nil, &Error{Kind: KindWebhook, Plant: plantID, Msg: "build request", Err: err}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		observability.WebhookCallsTotal.WithLabelValues(string(mode), "error").Inc()
		observability.WebhookDuration.WithLabelValues(string(mode), "error").Observe(time.Since(start).Seconds())

		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("request timed out after %s", s.c.cfg.Timeout)
		}
		return nil, &Error{Kind: KindConnection, Plant: plantID, Msg: msg, Err: err}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WebhookCallsTotal.WithLabelValues(string(mode), status).Inc()
	observability.WebhookDuration.WithLabelValues(string(mode), status).Observe(time.Since(start).Seconds())

	if err := classifyStatus(resp.StatusCode, plantID); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Plant: plantID, Msg: "read response body", Err: err}
	}
	return body, nil
}

func (c *Client) buildRequest(ctx context.Context, mode AddressingMode, plantID string) (*http.Request, error) {
	var (
		method = http.MethodGet
		target = c.endpoint
		body   io.Reader
	)

	switch mode {
	case ModePath:
		target += "/" + url.PathEscape(plantID)
	case ModeBody:
		method = http.MethodPost
		payload, err := json.Marshal(map[string]string{"plant_id": plantID})
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	case ModeBatch:
	default:
		return nil, fmt.Errorf("unknown addressing mode %q", mode)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// classifyStatus maps a response status onto the error taxonomy. Only 200
// proceeds to normalization.
func classifyStatus(code int, plantID string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, StatusCode: code, Plant: plantID, Msg: "token invalid or expired"}
	case code == http.StatusForbidden:
		return &Error{Kind: KindAuth, StatusCode: code, Plant: plantID, Msg: "insufficient permissions"}
	case code == http.StatusNotFound:
		msg := "plants endpoint not found"
		if plantID != "" {
			msg = fmt.Sprintf("plant %s not found", plantID)
		}
		return &Error{Kind: KindNotFound, StatusCode: code, Plant: plantID, Msg: msg}
	case code == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, StatusCode: code, Plant: plantID, Msg: "rate limit exceeded"}
	case code >= 500:
		return &Error{Kind: KindConnection, StatusCode: code, Plant: plantID, Msg: fmt.Sprintf("server error: %d", code)}
	default:
		return &Error{Kind: KindWebhook, StatusCode: code, Plant: plantID, Msg: fmt.Sprintf("unexpected HTTP status: %d", code)}
	}
}

// elementID returns the server-asserted id of a batch element, if it has one.
func elementID(raw any) (string, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return "", false
	}
	switch v := obj["id"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case json.Number:
		return v.String(), true
	case float64:
		return fmt.Sprintf("%g", v), true
	}
	return "", false
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode == http.StatusOK:
		return "success"
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return "auth_error"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unexpected"
	}
}
