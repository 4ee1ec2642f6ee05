// Package clients provides the tuned HTTP client used for calls to
// external collaborators such as the enrichment service, with connection
// pooling, HTTP/2, and circuit breaker protection.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"golang.org/x/net/http2"
)

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Circuit breaker
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// DefaultHTTPConfig returns production defaults
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		RequestTimeout:      30 * time.Second,
		EnableHTTP2:         true,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            30 * time.Second,
	}
}

// HTTPClient wraps http.Client with pooling and circuit breaking
type HTTPClient struct {
	client  *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPClient creates a tuned HTTP client
func NewHTTPClient(cfg *HTTPConfig) *HTTPClient {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	log := logger.Get().With(zap.String("component", "http_client"))

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown, log),
		logger:  log,
	}
}

// PostJSON sends a JSON body and returns the response body. Non-2xx
// responses and transport failures count against the circuit breaker;
// 4xx responses surface as non-retryable data errors, everything else as
// retryable connection errors.
func (hc *HTTPClient) PostJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	var out []byte
	err := hc.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "invalid request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := hc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled")
			}
			return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response")
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			out = raw
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return errors.New(errors.ErrorTypeRateLimit, "service rate limited the request").
				WithDetail("status", resp.StatusCode)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return errors.New(errors.ErrorTypeData, "service rejected the request").
				WithDetail("status", resp.StatusCode).
				WithDetail("body", string(raw))
		default:
			return errors.New(errors.ErrorTypeConnection, "service returned a server error").
				WithDetail("status", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BreakerState exposes the circuit state for health reporting
func (hc *HTTPClient) BreakerState() CircuitState {
	return hc.breaker.State()
}
