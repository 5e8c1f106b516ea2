// Package remote implements the client side of the telemetry ingestion
// service: an authenticated HTTP transport with per-attempt timeouts and a
// stable error classification for the shipper's retry and breaker logic.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/loykin/slamon/internal/event"
)

// DefaultTimeout bounds a single ingest attempt.
const DefaultTimeout = 5 * time.Second

// Ingestor is the remote ingestion collaborator. Implementations must be
// safe for concurrent use.
type Ingestor interface {
	Ingest(ctx context.Context, ev event.Event) error
}

// IngestFunc adapts a function to the Ingestor interface.
type IngestFunc func(ctx context.Context, ev event.Event) error

func (f IngestFunc) Ingest(ctx context.Context, ev event.Event) error { return f(ctx, ev) }

// TLSConfig holds TLS settings for the ingest transport.
type TLSConfig struct {
	CACert     string // CA certificate file path
	ServerName string // server name override for verification
	SkipVerify bool   // skip certificate verification
}

// Config holds ingest client configuration.
type Config struct {
	URL     string // ingest endpoint, e.g. https://ingest.example.com/v1/events
	Dataset string // logical dataset the events belong to
	Token   string // bearer token
	Timeout time.Duration
	TLS     *TLSConfig
	Logger  *slog.Logger
}

// Client ships events to the remote ingestion service over HTTPS.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New builds an ingest client. The per-request timeout is enforced by the
// caller's context; Config.Timeout only caps requests without a deadline.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ingest URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if cfg.TLS != nil {
		tc, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func buildTLSConfig(c *TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.ServerName,
	}
	if c.SkipVerify {
		tc.InsecureSkipVerify = true // #nosec G402 -- explicit operator opt-in
	}
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

type ingestRequest struct {
	Dataset string        `json:"dataset,omitempty"`
	Events  []event.Event `json:"events"`
}

// Ingest delivers one event. Failures are classified; see ErrorKind.
func (c *Client) Ingest(ctx context.Context, ev event.Event) error {
	body, err := json.Marshal(ingestRequest{Dataset: c.cfg.Dataset, Events: []event.Event{ev}})
	if err != nil {
		return fmt.Errorf("encode ingest request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: ErrorNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode)
}

// Health probes the ingest path with a synthetic event and returns the
// observed latency.
func (c *Client) Health(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.Ingest(ctx, event.New("health", event.KindMeasurement, map[string]any{"health_check": true}))
	return time.Since(start), err
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: ErrorAuth, Status: status, Err: errors.New(http.StatusText(status))}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: ErrorRateLimit, Status: status, Err: errors.New(http.StatusText(status))}
	case status >= 500:
		return &Error{Kind: ErrorServer, Status: status, Err: errors.New(http.StatusText(status))}
	default:
		return &Error{Kind: ErrorRejected, Status: status, Err: errors.New(http.StatusText(status))}
	}
}
