// Package notify reports failed hosts to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/deployer"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/httputil"
)

// Default delivery settings.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultAuthHeader = "Authorization"
)

// EventHostFailed is the event name sent for a failed host.
const EventHostFailed = "host_failed"

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Event string    `json:"event"`
	Host  string    `json:"host"`
	Stage string    `json:"stage"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Webhook posts host failures to a URL.
type Webhook struct {
	url        string
	authHeader string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
	now        func() time.Time
}

var _ deployer.Notifier = (*Webhook)(nil)

// Option is a functional option for configuring the Webhook.
type Option func(*Webhook)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(w *Webhook) {
		w.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithAuth sends token in header on every request. An empty header means
// DefaultAuthHeader.
func WithAuth(header, token string) Option {
	return func(w *Webhook) {
		if header == "" {
			header = DefaultAuthHeader
		}
		w.authHeader = header
		w.authToken = token
	}
}

// WithRetries sets the number of retry attempts for transient failures.
func WithRetries(retries int) Option {
	return func(w *Webhook) {
		if retries >= 0 {
			w.retries = retries
		}
	}
}

// WithRetryDelay sets the base delay between retry attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(w *Webhook) {
		if delay >= 0 {
			w.retryDelay = delay
		}
	}
}

// NewWebhook creates a webhook notifier posting to url.
func NewWebhook(url string, timeout time.Duration, opts ...Option) *Webhook {
	w := &Webhook{
		url:        url,
		logger:     slog.Default(),
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.httpClient == nil {
		w.httpClient = httputil.NewClient(
			httputil.WithTimeout(timeout),
			httputil.WithLogger(w.logger),
		)
	}

	return w
}

// Notify posts failure to the webhook, retrying transient failures with
// exponential backoff.
func (w *Webhook) Notify(ctx context.Context, failure *deployer.HostError) error {
	body, err := json.Marshal(Payload{
		Event: EventHostFailed,
		Host:  failure.Host,
		Stage: string(failure.Stage),
		Error: failure.Err.Error(),
		Time:  w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	status, err := w.post(ctx, body)
	if err != nil {
		return fmt.Errorf("webhook failed: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("webhook failed: unexpected status %d", status)
	}

	w.logger.Debug("failure reported to webhook",
		slog.String("host", failure.Host),
		slog.Int("status", status),
	)

	return nil
}

// isRetryable returns true if the status code indicates a transient failure:
// 429 and every 5xx except those that will never succeed on retry.
func isRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented, http.StatusHTTPVersionNotSupported:
		return false
	default:
		return statusCode >= 500 && statusCode <= 599
	}
}

// post sends body with retry logic and returns the final status code.
func (w *Webhook) post(ctx context.Context, body []byte) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			delay := w.retryDelay * time.Duration(1<<(attempt-1))
			w.logger.Debug("retrying webhook",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if w.authToken != "" {
			req.Header.Set(w.authHeader, w.authToken)
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("executing request: %w", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if isRetryable(resp.StatusCode) && attempt < w.retries {
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			continue
		}

		return resp.StatusCode, nil
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}
