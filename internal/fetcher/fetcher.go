// Package fetcher issues authenticated requests against overcast.fm
// through the response cache, with throttling and bounded retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/vault"
)

// Kind classifies a fetch failure for the caller's skip-or-abort choice.
type Kind int

const (
	// Unavailable is transient: skip the item this run, retry next run.
	Unavailable Kind = iota
	// Rejected is permanent for this run: every later authenticated
	// call would fail identically, so the invocation aborts.
	Rejected
)

func (k Kind) String() string {
	if k == Rejected {
		return "rejected"
	}
	return "unavailable"
}

type FetchError struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.Status, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transient, skippable failure.
func IsUnavailable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Unavailable
}

// IsRejected reports whether err invalidates the whole run.
func IsRejected(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Rejected
}

// Request is a normalized outbound request. TTL controls how long the
// cached response stays fresh.
type Request struct {
	Method string
	URL    string
	Accept string
	TTL    time.Duration
}

// Safari request headers, matching what the account's own browser
// session would send.
var baseHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Accept-Language": "en-US,en;q=0.9",
	"Sec-Fetch-Site":  "none",
	"Sec-Fetch-Mode":  "navigate",
	"Sec-Fetch-Dest":  "document",
}

type Client struct {
	httpClient  *http.Client
	cache       *cache.Cache
	limiter     *rate.Limiter
	cred        vault.Credential
	key         []byte
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option adjusts client behavior; used by tests to shrink timings.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.backoffBase, c.backoffMax = base, max }
}

// New builds a client around the sealed credential. The cookie is only
// revealed per outgoing request, never held on the struct.
func New(rc *cache.Cache, cred vault.Credential, key []byte, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		cache:       rc,
		limiter:     rate.NewLimiter(rate.Every(10*time.Second), 1),
		cred:        cred,
		key:         key,
		maxAttempts: 5,
		backoffBase: 2 * time.Second,
		backoffMax:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch resolves the request through the cache; only misses reach the
// network.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	fp := cache.Fingerprint(req.Method, req.URL, req.Accept)
	return c.cache.GetOrFetch(fp, req.TTL, func() ([]byte, error) {
		return c.fetchWithRetry(ctx, req)
	})
}

func (c *Client) fetchWithRetry(ctx context.Context, req Request) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffMax

	var lastErr *FetchError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, ferr := c.doOnce(ctx, req)
		if ferr == nil {
			return body, nil
		}
		if ferr.Kind == Rejected {
			return nil, ferr
		}

		lastErr = ferr
		if attempt == c.maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		log.Warn().
			Str("url", req.URL).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(ferr.Err).
			Msg("transient fetch failure, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &FetchError{Kind: Unavailable, URL: req.URL, Err: ctx.Err()}
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req Request) ([]byte, *FetchError) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: Unavailable, URL: req.URL, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: Rejected, URL: req.URL, Err: err}
	}
	for k, v := range baseHeaders {
		httpReq.Header.Set(k, v)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	cookie, err := vault.Reveal(c.cred, c.key)
	if err != nil {
		return nil, &FetchError{Kind: Rejected, URL: req.URL, Err: err}
	}
	httpReq.Header.Set("Cookie", "o="+cookie+"; qr=-")

	log.Info().Str("url", req.URL).Msg("GET")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &FetchError{Kind: Unavailable, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &FetchError{Kind: Unavailable, URL: req.URL, Err: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &FetchError{
			Kind:   Unavailable,
			URL:    req.URL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server returned %s", resp.Status),
		}

	default:
		// Remaining 4xx: the credential or endpoint is unusable for
		// this run.
		return nil, &FetchError{
			Kind:   Rejected,
			URL:    req.URL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server returned %s", resp.Status),
		}
	}
}
