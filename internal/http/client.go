package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Common errors.
var (
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
	ErrServerError         = errors.New("http: server error")
	ErrRangeNotSatisfiable = errors.New("http: range not satisfiable")
	ErrUnexpectedStatus    = errors.New("http: unexpected status code")
	ErrNoContentLength     = errors.New("http: missing content length")
	ErrBadContentRange     = errors.New("http: invalid content range")
	ErrIdleTimeout         = errors.New("http: transfer stalled")
)

// StatusError carries the status code of a failed request.
type StatusError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d (%s)", e.Err, e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Options configures the HTTP client.
type Options struct {
	// Timeout for metadata and enumeration requests, including reading the
	// body. Range transfers are not bounded by it.
	// Default: 10m
	Timeout time.Duration

	// IdleTimeout bounds how long a range transfer may wait for response
	// headers or for the next body bytes.
	// Default: 1m
	IdleTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// UserAgent is sent with every request when set.
	UserAgent string

	// Username and Password enable HTTP basic authentication.
	Username string
	Password string

	// RateLimit caps requests per second through Get. Zero disables it.
	RateLimit float64

	// RetryAttempts is the maximum number of retry attempts for Head and Get.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// Transport overrides the base transport, mostly for tests.
	Transport http.RoundTripper

	// Logger receives throttling and retry messages.
	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Minute,
		IdleTimeout:     time.Minute,
		RetryAttempts:   3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// RangeResponse is the answer to an open-ended range request.
type RangeResponse struct {
	Body io.ReadCloser

	// StatusCode is 206 when the server honoured the range and 200 when it
	// sent the whole resource instead.
	StatusCode int

	// Start is the first byte offset of Body within the resource.
	Start int64

	// Total is the full resource size from Content-Range, or -1.
	Total         int64
	ContentLength int64
}

// Partial reports whether the server honoured the range request.
func (r *RangeResponse) Partial() bool {
	return r.StatusCode == http.StatusPartialContent
}

// Client is an HTTP client for order enumeration and asset transfers.
type Client struct {
	client    *http.Client
	transfer  *http.Client
	enumerate *http.Client
	opts      Options
	logger    *slog.Logger
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) (*Client, error) {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := opts.Transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		// Raw bytes are required for range arithmetic.
		t.DisableCompression = true
		t.ResponseHeaderTimeout = opts.IdleTimeout
		if opts.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user opt-in
		}
		base = t
	}

	var rt http.RoundTripper = authenticator{
		username:  opts.Username,
		password:  opts.Password,
		userAgent: opts.UserAgent,
		base:      base,
	}

	enumerateRT := rt
	if opts.RateLimit > 0 {
		throttled, err := NewThrottle(opts.RateLimit, 1, logger, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring rate limit: %w", err)
		}
		enumerateRT = throttled
	}

	return &Client{
		client:    &http.Client{Transport: rt, Timeout: opts.Timeout},
		transfer:  &http.Client{Transport: rt},
		enumerate: &http.Client{Transport: enumerateRT, Timeout: opts.Timeout},
		opts:      opts,
		logger:    logger,
	}, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying head request", "url", url, "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = statusError(resp.StatusCode, url)
			continue
		}

		if err := checkStatusCode(resp.StatusCode, url); err != nil {
			return nil, err
		}

		if resp.ContentLength < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoContentLength, url)
		}

		info := &FileInfo{
			Size:          resp.ContentLength,
			ETag:          cleanETag(resp.Header.Get("ETag")),
			AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
			ContentType:   resp.Header.Get("Content-Type"),
		}

		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				info.LastModified = t
			}
		}

		return info, nil
	}

	return nil, fmt.Errorf("head request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// GetFrom requests the resource from offset to its end. It makes a single
// attempt; the caller owns Body on success.
//
// The transfer has no overall deadline. It fails with ErrIdleTimeout when
// no bytes arrive for Options.IdleTimeout.
func (c *Client) GetFrom(ctx context.Context, url string, offset int64) (*RangeResponse, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}

	ctx, cancel := context.WithCancel(ctx)
	body := newIdleBody(cancel, c.opts.IdleTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := c.transfer.Do(req)
	if err != nil {
		body.Close()
		return nil, body.wrap(err)
	}
	body.rc = resp.Body

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("%w: %w", ErrBadContentRange, err)
		}
		return &RangeResponse{
			Body:          body,
			StatusCode:    resp.StatusCode,
			Start:         start,
			Total:         total,
			ContentLength: resp.ContentLength,
		}, nil

	case http.StatusOK:
		return &RangeResponse{
			Body:          body,
			StatusCode:    resp.StatusCode,
			Start:         0,
			Total:         resp.ContentLength,
			ContentLength: resp.ContentLength,
		}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Err: ErrRangeNotSatisfiable}
	}

	body.Close()
	if err := checkStatusCode(resp.StatusCode, url); err != nil {
		return nil, err
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Err: ErrUnexpectedStatus}
}

// Get performs a rate-limited GET, retrying server errors.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying get request", "url", url, "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.enumerate.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = statusError(resp.StatusCode, url)
			continue
		}

		if err := checkStatusCode(resp.StatusCode, url); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp.Body, nil
	}

	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int, url string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return statusError(code, url)
}

func statusError(code int, url string) error {
	var err error
	switch {
	case code == http.StatusNotFound:
		err = ErrNotFound
	case code == http.StatusForbidden:
		err = ErrForbidden
	case code == http.StatusUnauthorized:
		err = ErrUnauthorized
	case code >= 500:
		err = ErrServerError
	default:
		err = ErrUnexpectedStatus
	}
	return &StatusError{StatusCode: code, URL: url, Err: err}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}

// authenticator is an http.RoundTripper adding credentials and the
// User-Agent header to every request.
type authenticator struct {
	username  string
	password  string
	userAgent string
	base      http.RoundTripper
}

func (a authenticator) RoundTrip(r *http.Request) (*http.Response, error) {
	if a.username == "" && a.userAgent == "" {
		return a.base.RoundTrip(r)
	}

	cpy := r.Clone(r.Context())
	if a.username != "" {
		cpy.SetBasicAuth(a.username, a.password)
	}
	if a.userAgent != "" {
		cpy.Header.Set("User-Agent", a.userAgent)
	}
	return a.base.RoundTrip(cpy)
}

// idleBody cancels its request when no bytes arrive for idle. The timer runs
// from before the request is sent until Close.
type idleBody struct {
	rc      io.ReadCloser
	cancel  context.CancelFunc
	timer   *time.Timer
	idle    time.Duration
	expired atomic.Bool
}

func newIdleBody(cancel context.CancelFunc, idle time.Duration) *idleBody {
	b := &idleBody{cancel: cancel, idle: idle}
	b.timer = time.AfterFunc(idle, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.expired.Load() {
		b.timer.Reset(b.idle)
	}
	if err != nil && err != io.EOF {
		err = b.wrap(err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	b.cancel()
	if b.rc == nil {
		return nil
	}
	return b.rc.Close()
}

func (b *idleBody) wrap(err error) error {
	var ne net.Error
	headerTimeout := errors.As(err, &ne) && ne.Timeout() && !errors.Is(err, context.DeadlineExceeded)
	if b.expired.Load() || headerTimeout {
		return fmt.Errorf("%w after %s: %w", ErrIdleTimeout, b.idle, err)
	}
	return err
}
