// Package remote implements the Remote Client (C1, §4.1): HTTP requests and
// newline-delimited JSON streams against the upstream gaming service, with
// capped exponential backoff, 429 rate-limit respect, and idle-stream
// watchdogs. The remote service's base URL is supplied by configuration; the
// endpoint paths appended to it are the constants in api.go.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/logging"
)

// Errors reported upward, matching §4.1's taxonomy by sentinel identity.
var (
	ErrTransport     = errors.New("transport")
	ErrRateLimited   = errors.New("rate-limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not-found")
	ErrConflict      = errors.New("conflict")
	ErrServer        = errors.New("server")
	ErrStalled       = errors.New("stalled")
	ErrCancelled     = errors.New("cancelled")
)

// Client is the Remote Client (C1). One Client instance is shared by every
// other component; its RateBudget table is the only mutable state it owns.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	timeout time.Duration
	idle    time.Duration
	retry   RetryPolicy
	budgets *budgetTable
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures optional Client parameters at construction time.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithHTTPClient overrides the underlying *http.Client (tests inject a fake transport).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithLogger overrides the package-global fallback logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client bound to baseURL with bearer credential token,
// injected by configuration per §4.1 — the client never acquires credentials
// itself.
func New(baseURL, token string, requestTimeout, streamIdleTimeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, chessboterr.New(chessboterr.KindConfig, "remote.New", errors.New("base URL must not be empty"))
	}
	if token == "" {
		return nil, chessboterr.New(chessboterr.KindConfig, "remote.New", errors.New("token must not be empty"))
	}
	c := &Client{
		http:    &http.Client{Timeout: 0}, // per-request timeout applied via context
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: requestTimeout,
		idle:    streamIdleTimeout,
		retry:   DefaultRetryPolicy(),
		budgets: newBudgetTable(nil),
		logger:  logging.L(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.budgets = newBudgetTable(c.now)
	return c, nil
}

func classify(method, path string) EndpointClass {
	switch {
	case strings.Contains(path, "stream"):
		return ClassStream
	case strings.Contains(path, "move"):
		return ClassMove
	case strings.Contains(path, "challenge") || strings.Contains(path, "accept") || strings.Contains(path, "decline") || strings.Contains(path, "abort") || strings.Contains(path, "resign"):
		return ClassChallenge
	case strings.Contains(path, "chat"):
		return ClassChat
	default:
		return ClassMisc
	}
}

// Request issues one HTTP request with retry/backoff per §4.1. idempotent
// controls which failures are retried: transport errors, 5xx responses and
// 429s (true), or transport errors only, with 5xx, 429 and other 4xx
// responses surfaced immediately (false, for move submission / accept /
// decline / chat).
func (c *Client) Request(ctx context.Context, method, path string, body any, idempotent bool) (*http.Response, error) {
	class := classify(method, path)

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, chessboterr.New(chessboterr.KindInternal, path, fmt.Errorf("marshal request body: %w", err))
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if wait := c.budgets.waitUntil(class); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, chessboterr.New(chessboterr.KindCancelled, path, ErrCancelled)
			}
		}

		resp, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			c.budgets.recordSuccess(class)
			return resp, nil
		}
		lastErr = err

		if chessboterr.Is(err, chessboterr.KindRateLimit) {
			// waitUntil on the next loop iteration already reflects the
			// penalty doOnce just recorded; only idempotent requests loop
			// automatically past a 429 (§4.1: non-idempotent requests are
			// never retried on a 4xx, including 429).
			if !idempotent {
				return nil, err
			}
			continue
		}

		// Transport errors and 5xx (wrapped as KindTransport) are retryable
		// for idempotent requests; non-idempotent requests retry only on
		// transport errors, never on a protocol-level (4xx) failure (§4.1).
		isTransport := chessboterr.Is(err, chessboterr.KindTransport)
		if !isTransport {
			return nil, err
		}
		if !idempotent && !errors.Is(err, ErrTransport) {
			return nil, err
		}

		c.logger.Warn("request retrying", append([]logging.Field{logging.String("path", path), logging.Int("attempt", attempt+1)}, logging.ErrorFields(err)...)...)
		delay := c.retry.backoff(attempt)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, chessboterr.New(chessboterr.KindCancelled, path, ErrCancelled)
		}
	}
	return nil, chessboterr.New(chessboterr.KindTransport, path, fmt.Errorf("exhausted %d attempts: %w", c.retry.MaxAttempts, lastErr))
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	class := classify(method, path)

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, chessboterr.New(chessboterr.KindInternal, path, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, chessboterr.New(chessboterr.KindCancelled, path, ErrCancelled)
		}
		return nil, chessboterr.New(chessboterr.KindTransport, path, fmt.Errorf("%w: %v", ErrTransport, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		defer resp.Body.Close()
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.budgets.penalize(class, retryAfter)
		return nil, chessboterr.New(chessboterr.KindRateLimit, path, ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		defer resp.Body.Close()
		return nil, chessboterr.New(chessboterr.KindAuth, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		defer resp.Body.Close()
		return nil, chessboterr.New(chessboterr.KindProtocol, path, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		defer resp.Body.Close()
		return nil, chessboterr.New(chessboterr.KindProtocol, path, ErrConflict)
	case resp.StatusCode >= 500:
		defer resp.Body.Close()
		return nil, chessboterr.New(chessboterr.KindTransport, path, fmt.Errorf("%w: status %s", ErrServer, resp.Status))
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		return nil, chessboterr.New(chessboterr.KindProtocol, path, fmt.Errorf("status %s", resp.Status))
	}
	return resp, nil
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Frame is one decoded line from an NDJSON stream.
type Frame struct {
	Raw []byte
	Err error // non-nil for the terminal frame only (e.g. ErrStalled, ErrCancelled)
}

// Stream is a cancellable sequence of frames from one NDJSON endpoint (§4.1, §5).
type Stream struct {
	frames chan Frame
	cancel context.CancelFunc
	closer io.Closer
}

// Frames returns the channel of decoded frames. The channel is closed after
// the terminal error frame (if any) has been delivered.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Close cancels the stream's context and releases the underlying connection.
func (s *Stream) Close() {
	s.cancel()
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

// OpenStream opens path as an NDJSON stream (§4.1, §6). Empty lines are
// keepalives: no frame is emitted for them, but they reset the idle-timeout
// watchdog. On watchdog expiry an ErrStalled frame is surfaced and the stream
// closes; on context cancellation an ErrCancelled frame is surfaced.
func (c *Client) OpenStream(ctx context.Context, path string) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, chessboterr.New(chessboterr.KindInternal, path, fmt.Errorf("build stream request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, chessboterr.New(chessboterr.KindTransport, path, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		cancel()
		return nil, chessboterr.New(chessboterr.KindProtocol, path, fmt.Errorf("stream status %s", resp.Status))
	}

	s := &Stream{
		frames: make(chan Frame, 16),
		cancel: cancel,
		closer: resp.Body,
	}
	go c.pumpStream(streamCtx, path, resp.Body, s.frames)
	return s, nil
}

func (c *Client) pumpStream(ctx context.Context, path string, body io.ReadCloser, out chan<- Frame) {
	defer close(out)

	lines := make(chan string, 1)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	watchdog := time.NewTimer(c.idle)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			out <- Frame{Err: chessboterr.New(chessboterr.KindCancelled, path, ErrCancelled)}
			return
		case <-watchdog.C:
			c.logger.Warn("stream stalled", logging.String("path", path))
			out <- Frame{Err: chessboterr.New(chessboterr.KindTransport, path, ErrStalled)}
			return
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if err != nil {
					out <- Frame{Err: chessboterr.New(chessboterr.KindTransport, path, fmt.Errorf("%w: %v", ErrTransport, err))}
				}
				// Mid-stream transport failure or EOF: the client does not
				// reconnect automatically (§4.1); the consumer decides.
				return
			}
			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(c.idle)
			if strings.TrimSpace(line) == "" {
				continue // keepalive: reset watchdog above, emit no frame
			}
			out <- Frame{Raw: []byte(line)}
		}
	}
}
