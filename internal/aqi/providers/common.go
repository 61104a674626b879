package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// RetryPolicy controls the bounded retry loop shared by every adapter.
type RetryPolicy struct {
	// Retries is the maximum number of attempts, 429s included.
	Retries       int
	InitialWait   time.Duration
	BackoffFactor float64
	MaxWait       time.Duration
}

// DefaultRetryPolicy returns 5 attempts waiting 5s, 10s, 20s, 40s (capped at 60s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:       5,
		InitialWait:   5 * time.Second,
		BackoffFactor: 2,
		MaxWait:       60 * time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExhaustionPolicy decides what an adapter returns once retries run out.
type ExhaustionPolicy int

const (
	// Degrade returns a nil or empty result so the caller keeps its cadence.
	Degrade ExhaustionPolicy = iota
	// Raise surfaces a PermanentProviderError.
	Raise
)

var (
	// ErrRetriesExhausted is wrapped by errors returned after the last attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")

	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid retry configuration")
)

// Backoff runs an operation with exponential backoff. Transient failures are
// retried; anything else is returned at once.
type Backoff struct {
	policy RetryPolicy
	sleep  SleepFunc
	logger *slog.Logger
}

// NewBackoff creates a Backoff. A nil sleep uses a context-aware timer.
func NewBackoff(policy RetryPolicy, sleep SleepFunc, logger *slog.Logger) *Backoff {
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backoff{policy: policy, sleep: sleep, logger: logger}
}

// Do calls op until it succeeds, returns a non-transient error, or the
// policy's attempts are spent. The wait after attempt n is
// min(initial * factor^(n-1), max). There is no wait after the last attempt.
func (b *Backoff) Do(ctx context.Context, source string, op func(ctx context.Context) error) error {
	if b.policy.Retries < 1 || b.policy.InitialWait < 0 || b.policy.BackoffFactor < 1 {
		return aqi.NewError(aqi.KindPermanentProvider, source, "bad retry policy", errInvalidConfig)
	}

	wait := b.policy.InitialWait
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if aqi.KindOf(err) != aqi.KindTransient {
			return err
		}
		lastErr = err

		if attempt >= b.policy.Retries || errors.Is(err, errCircuitOpen) {
			return aqi.NewError(aqi.KindTransient, source,
				fmt.Sprintf("giving up after %d attempts", attempt),
				fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr))
		}

		b.logger.Warn("provider call failed, backing off",
			"provider", source,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}

		wait = time.Duration(float64(wait) * b.policy.BackoffFactor)
		if b.policy.MaxWait > 0 && wait > b.policy.MaxWait {
			wait = b.policy.MaxWait
		}
	}
}

// Exhausted reports whether err came out of a Backoff that ran out of attempts.
func Exhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}

// raise converts an exhausted transient error into a PermanentProviderError.
func raise(source string, err error) error {
	var ae *aqi.Error
	if errors.As(err, &ae) && ae.Kind == aqi.KindTransient {
		return aqi.NewError(aqi.KindPermanentProvider, source, "provider unavailable", ae.Err)
	}
	return err
}

// HTTPClientConfig bundles the HTTP client and resilience settings shared by
// adapters.
type HTTPClientConfig struct {
	Client *http.Client
	Retry  RetryPolicy
	// Sleep replaces the backoff timer, mainly for tests.
	Sleep  SleepFunc
	Logger *slog.Logger
	// BaseURL overrides the provider's endpoint root when set.
	BaseURL string
}

func (c HTTPClientConfig) baseURL(def string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return def
}

func (c HTTPClientConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// transport executes one provider's HTTP calls through its circuit breaker
// and the shared backoff loop.
//
// The breaker opens only after two exhausted calls in a row, so a single
// failing request never shortens the next call's attempts. Once open, calls
// get one refused attempt each until the breaker's timeout elapses.
type transport struct {
	name    string
	client  *http.Client
	backoff *Backoff
	circuit *gobreaker.CircuitBreaker
}

func newTransport(name string, cfg HTTPClientConfig) *transport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripThreshold(cfg.Retry)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || aqi.KindOf(err) != aqi.KindTransient
		},
	})

	return &transport{
		name:    name,
		client:  cfg.Client,
		backoff: NewBackoff(cfg.Retry, cfg.Sleep, cfg.logger()),
		circuit: cb,
	}
}

// tripThreshold is the consecutive failure count that opens the breaker.
func tripThreshold(policy RetryPolicy) uint32 {
	retries := policy.Retries
	if retries < 1 {
		retries = 1
	}
	return uint32(2 * retries)
}

// getJSON performs a GET with retries and decodes the body into dst.
// Network errors, timeouts, 5xx and 429 are transient; other non-2xx codes
// and undecodable bodies are permanent.
func (t *transport) getJSON(ctx context.Context, buildRequest func() (*http.Request, error), dst any) error {
	if t.client == nil {
		return aqi.NewError(aqi.KindPermanentProvider, t.name, "no http client", errNoHTTPClient)
	}

	return t.backoff.Do(ctx, t.name, func(ctx context.Context) error {
		req, err := buildRequest()
		if err != nil {
			return aqi.NewError(aqi.KindPermanentProvider, t.name, "build request", err)
		}
		req = req.WithContext(ctx)

		result, err := t.circuit.Execute(func() (interface{}, error) {
			return t.roundTrip(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return aqi.NewError(aqi.KindTransient, t.name, "request refused", fmt.Errorf("%w: %v", errCircuitOpen, err))
			}
			return err
		}

		body, ok := result.([]byte)
		if !ok {
			return aqi.NewError(aqi.KindPermanentProvider, t.name, "unexpected result type from circuit breaker", nil)
		}
		if err := json.Unmarshal(body, dst); err != nil {
			return aqi.NewError(aqi.KindPermanentProvider, t.name, "malformed payload", err)
		}
		return nil
	})
}

func (t *transport) roundTrip(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, aqi.NewError(aqi.KindTransient, t.name, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, aqi.NewError(aqi.KindTransient, t.name, "status 429", errRateLimited)
	case resp.StatusCode >= 500:
		return nil, aqi.NewError(aqi.KindTransient, t.name, fmt.Sprintf("status %d", resp.StatusCode), errServerError)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, aqi.NewError(aqi.KindPermanentProvider, t.name, fmt.Sprintf("status %d", resp.StatusCode), errUnexpected)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, aqi.NewError(aqi.KindTransient, t.name, "read body", err)
	}
	return body, nil
}

func newGetRequest(rawURL string) (*http.Request, error) {
	return http.NewRequest(http.MethodGet, rawURL, nil)
}
