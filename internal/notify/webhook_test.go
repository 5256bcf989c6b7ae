package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/deployer"
)

func testFailure() *deployer.HostError {
	return &deployer.HostError{
		Host:  "web2.example.com",
		Stage: deployer.StageConnect,
		Err:   errors.New("authentication failed"),
	}
}

func newTestWebhook(url string, opts ...Option) *Webhook {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryDelay(time.Millisecond),
	}, opts...)
	w := NewWebhook(url, 5*time.Second, opts...)
	w.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestWebhook_Notify(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer abc" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer abc")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook := newTestWebhook(server.URL, WithAuth("", "Bearer abc"))
	if err := hook.Notify(context.Background(), testFailure()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	want := Payload{
		Event: EventHostFailed,
		Host:  "web2.example.com",
		Stage: "connect",
		Error: "authentication failed",
		Time:  time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	if !got.Time.Equal(want.Time) {
		t.Errorf("payload time = %v, want %v", got.Time, want.Time)
	}
	got.Time, want.Time = time.Time{}, time.Time{}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

func TestWebhook_CustomAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "secret123" {
			t.Errorf("X-API-Key = %q, want %q", key, "secret123")
		}
	}))
	defer server.Close()

	if err := newTestWebhook(server.URL, WithAuth("X-API-Key", "secret123")).Notify(context.Background(), testFailure()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
}

func TestWebhook_Retries(t *testing.T) {
	t.Run("transient failure then success", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		if err := newTestWebhook(server.URL).Notify(context.Background(), testFailure()); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("internal server error is retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		if err := newTestWebhook(server.URL).Notify(context.Background(), testFailure()); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		if err := newTestWebhook(server.URL, WithRetries(2)).Notify(context.Background(), testFailure()); err == nil {
			t.Error("Notify() expected error")
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		if err := newTestWebhook(server.URL).Notify(context.Background(), testFailure()); err == nil {
			t.Error("Notify() expected error")
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})
}

func TestWebhook_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	if err := newTestWebhook(url, WithRetries(0)).Notify(context.Background(), testFailure()); err == nil {
		t.Error("Notify() to closed server expected error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusNotImplemented, false},
		{http.StatusHTTPVersionNotSupported, false},
		{http.StatusBadRequest, false},
		{http.StatusOK, false},
	}

	for _, tt := range tests {
		if got := isRetryable(tt.code); got != tt.want {
			t.Errorf("isRetryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
