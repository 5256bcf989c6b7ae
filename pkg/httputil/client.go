// Package httputil builds the HTTP client used for outbound hooks.
//
// Every request carries the hostdeploy User-Agent and a unique delivery ID
// (DeliveryHeader) so receivers can de-duplicate retried notifications.
package httputil

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds a whole request, including retries of the body.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent unless the request sets its own.
	DefaultUserAgent = "hostdeploy/1.0"

	// DeliveryHeader carries the per-delivery ID.
	DeliveryHeader = "X-Hostdeploy-Delivery"
)

type clientOptions struct {
	timeout       time.Duration
	userAgent     string
	tlsSkipVerify bool
	logger        *slog.Logger
}

// Option configures NewClient.
type Option func(*clientOptions)

// WithTimeout sets the client timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithUserAgent replaces DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. Only for
// endpoints with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *clientOptions) {
		o.tlsSkipVerify = skip
	}
}

// WithLogger logs each request and response at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

type hookTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func (t *hookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get(DeliveryHeader) == "" {
		req.Header.Set(DeliveryHeader, uuid.NewString())
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	if t.logger != nil {
		attrs := []any{
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.String("delivery", req.Header.Get(DeliveryHeader)),
			slog.Duration("elapsed", time.Since(start)),
		}
		if resp != nil {
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		t.logger.Debug("hook request", attrs...)
	}

	return resp, err
}

// NewClient creates an HTTP client for webhook deliveries.
func NewClient(opts ...Option) *http.Client {
	o := &clientOptions{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(o)
	}

	base := http.DefaultTransport
	if o.tlsSkipVerify {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Intentional: user explicitly requested skip
		}
		base = tr
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &hookTransport{
			base:      base,
			userAgent: o.userAgent,
			logger:    o.logger,
		},
	}
}
