package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func (r *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

func testPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		Retries:       retries,
		InitialWait:   5 * time.Second,
		BackoffFactor: 2,
		MaxWait:       60 * time.Second,
	}
}

func testConfig(srv *httptest.Server, retries int, rec *sleepRecorder) HTTPClientConfig {
	return HTTPClientConfig{
		Client:  srv.Client(),
		Retry:   testPolicy(retries),
		Sleep:   rec.sleep,
		BaseURL: srv.URL,
	}
}

func transientErr() error {
	return aqi.NewError(aqi.KindTransient, "test", "boom", errors.New("connection reset"))
}

func TestBackoffSucceedsOnThirdAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	b := NewBackoff(testPolicy(5), rec.sleep, nil)

	attempts := 0
	err := b.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return transientErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
	assert.Equal(t, 15*time.Second, rec.total())
}

func TestBackoffExhaustionMakesExactlyRetriesAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	b := NewBackoff(testPolicy(3), rec.sleep, nil)

	attempts := 0
	err := b.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return transientErr()
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, Exhausted(err))
	assert.ErrorIs(t, err, aqi.ErrTransient)
	assert.Len(t, rec.waits, 2)
}

func TestBackoffWaitIsCapped(t *testing.T) {
	rec := &sleepRecorder{}
	policy := RetryPolicy{Retries: 5, InitialWait: 5 * time.Second, BackoffFactor: 2, MaxWait: 12 * time.Second}
	b := NewBackoff(policy, rec.sleep, nil)

	_ = b.Do(context.Background(), "test", func(context.Context) error { return transientErr() })

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 12 * time.Second, 12 * time.Second}, rec.waits)
}

func TestBackoffDoesNotRetryPermanentErrors(t *testing.T) {
	rec := &sleepRecorder{}
	b := NewBackoff(testPolicy(5), rec.sleep, nil)

	attempts := 0
	err := b.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return aqi.NewError(aqi.KindPermanentProvider, "test", "bad payload", nil)
	})

	assert.ErrorIs(t, err, aqi.ErrPermanentProvider)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.waits)
}

func TestBackoffStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBackoff(testPolicy(5), func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}, nil)

	attempts := 0
	err := b.Do(ctx, "test", func(context.Context) error {
		attempts++
		return transientErr()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestBackoffRejectsBadPolicy(t *testing.T) {
	b := NewBackoff(RetryPolicy{Retries: 0, InitialWait: time.Second, BackoffFactor: 2}, nil, nil)
	err := b.Do(context.Background(), "test", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, errInvalidConfig)
}

func TestTransportRateLimitSharesAttemptCounter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1, 3:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	tr := newTransport("test", testConfig(srv, 3, rec))

	var dst map[string]any
	err := tr.getJSON(context.Background(), func() (*http.Request, error) {
		return newGetRequest(srv.URL)
	}, &dst)

	assert.True(t, Exhausted(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
}

func TestTransportBreakerKeepsFullAttemptsAfterOneExhaustion(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := newTransport("test", testConfig(srv, 3, &sleepRecorder{}))
	get := func() error {
		var dst map[string]any
		return tr.getJSON(context.Background(), func() (*http.Request, error) {
			return newGetRequest(srv.URL)
		}, &dst)
	}

	assert.True(t, Exhausted(get()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// The second exhausted call still gets every attempt.
	assert.True(t, Exhausted(get()))
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))

	// Two exhausted calls in a row open the breaker.
	err := get()
	assert.True(t, Exhausted(err))
	assert.Contains(t, err.Error(), errCircuitOpen.Error())
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))
}

func TestTripThreshold(t *testing.T) {
	assert.Equal(t, uint32(10), tripThreshold(DefaultRetryPolicy()))
	assert.Equal(t, uint32(2), tripThreshold(RetryPolicy{}))
}

func TestTransportClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	tr := newTransport("test", testConfig(srv, 3, rec))

	var dst map[string]any
	err := tr.getJSON(context.Background(), func() (*http.Request, error) {
		return newGetRequest(srv.URL)
	}, &dst)

	assert.ErrorIs(t, err, aqi.ErrPermanentProvider)
	assert.False(t, Exhausted(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransportMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	tr := newTransport("test", testConfig(srv, 3, &sleepRecorder{}))

	var dst map[string]any
	err := tr.getJSON(context.Background(), func() (*http.Request, error) {
		return newGetRequest(srv.URL)
	}, &dst)

	assert.ErrorIs(t, err, aqi.ErrPermanentProvider)
}

func TestParseTimestampNormalizesToUTC(t *testing.T) {
	cases := map[string]time.Time{
		"2025-01-20T14:00:00+05:00":  time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC),
		"2025-01-20T14:00:00Z":       time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC),
		"2025-01-20T14:00":           time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC),
		"2025-01-20 14:00:00":        time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC),
		"2019-08-05T09:00:00.000Z":   time.Date(2019, 8, 5, 9, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
		assert.Equal(t, time.UTC, got.Location(), in)
	}

	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
}
