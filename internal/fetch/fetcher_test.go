package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/hypetrack/internal/models"
)

func testClient(maxRetries int) *Client {
	return NewClient(models.SourceScholar, Options{
		Timeout:        2 * time.Second,
		MaxRetries:     maxRetries,
		RetryDelayBase: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := testClient(3).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", got)
	}
}

func TestGetRateLimitIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := testClient(2).Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get failed after 429: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestGetPermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(3).Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !IsPermanent(err) {
		t.Errorf("400 should be permanent, got: %v", err)
	}
	if IsTransient(err) {
		t.Error("permanent error must not also be transient")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("permanent failure must not retry: %d calls", got)
	}
}

func TestGetExhaustedRetriesIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(2).Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if !IsTransient(err) {
		t.Errorf("exhausted 503s should remain transient, got: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestGetRespectsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(models.SourceTrends, Options{
		Timeout:        time.Second,
		MaxRetries:     5,
		RetryDelayBase: time.Hour, // would block forever without cancellation
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, srv.URL)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
		if !IsTransient(err) {
			t.Errorf("cancellation should surface as transient, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not return after context cancellation")
	}
}

func TestGetMinIntervalSpacing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(models.SourceArxiv, Options{
		Timeout:     time.Second,
		MinInterval: 50 * time.Millisecond,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), srv.URL); err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
	}
	// First call may pass immediately; the following two must each wait.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("3 calls with 50ms spacing finished in %v, expected >= 100ms", elapsed)
	}
}

func TestGetJSONDecodeFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := testClient(0).GetJSON(context.Background(), srv.URL, &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !IsPermanent(err) {
		t.Errorf("malformed payload should be permanent, got: %v", err)
	}
}
