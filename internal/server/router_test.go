package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/slamon/internal/alertlog"
	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/collector"
	"github.com/loykin/slamon/internal/event"
	"github.com/loykin/slamon/internal/retry"
	"github.com/loykin/slamon/internal/shipper"
)

type stubIngestor struct{ err error }

func (s *stubIngestor) Ingest(context.Context, event.Event) error { return s.err }

type stubHealth struct{ err error }

func (s *stubHealth) Health(context.Context) (time.Duration, error) {
	return 5 * time.Millisecond, s.err
}

func newTestRouter(t *testing.T, ingErr, healthErr error) (*Router, *backlog.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := backlog.Open(t.TempDir(), backlog.RotationPolicy{}, logger)
	if err != nil {
		t.Fatalf("backlog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	brk := breaker.New(breaker.Config{}, logger)
	ship, err := shipper.New(shipper.Options{
		Ingestor: &stubIngestor{err: ingErr},
		Backlog:  store,
		Breaker:  brk,
		Policy:   retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("shipper.New: %v", err)
	}
	col := collector.New(collector.Config{Channels: map[string]float64{"chat": 5}}, ship, alertlog.New(alertlog.Config{}), logger)
	return NewRouter(col, ship, brk, store, &stubHealth{err: healthErr}, "", false), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRecordEndpoint(t *testing.T) {
	r, store := newTestRouter(t, nil, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/record", recordReq{Channel: "chat", ElapsedSeconds: 1.5})
	if w.Code != http.StatusOK {
		t.Fatalf("record status = %d body=%s", w.Code, w.Body.String())
	}
	if n, _ := store.UnsyncedCount(); n != 0 {
		t.Fatalf("delivered event ended up in backlog")
	}

	w = doJSON(t, h, http.MethodPost, "/record", recordReq{ElapsedSeconds: 1.5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing channel accepted: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/record", bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON accepted: %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	h := r.Handler()

	if w := doJSON(t, h, http.MethodPost, "/record", recordReq{Channel: "chat", ElapsedSeconds: 2}); w.Code != http.StatusOK {
		t.Fatalf("record: %d", w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp statusResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.BreakerState != "closed" {
		t.Fatalf("breaker state = %q", resp.BreakerState)
	}
	if resp.Channels["chat"].Count != 1 {
		t.Fatalf("channel stats: %+v", resp.Channels)
	}
}

func TestResyncEndpoint(t *testing.T) {
	r, store := newTestRouter(t, nil, nil)
	h := r.Handler()

	if err := store.Append(event.Record{Event: event.New("chat", event.KindMeasurement, nil)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w := doJSON(t, h, http.MethodPost, "/resync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resync = %d body=%s", w.Code, w.Body.String())
	}
	var resp resyncResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode resync: %v", err)
	}
	if resp.Synced != 1 {
		t.Fatalf("synced = %d, want 1", resp.Synced)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	w := doJSON(t, r.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}

	r, _ = newTestRouter(t, nil, errors.New("down"))
	w = doJSON(t, r.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy probe = %d", w.Code)
	}
}

func TestBasePath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := backlog.Open(t.TempDir(), backlog.RotationPolicy{}, logger)
	if err != nil {
		t.Fatalf("backlog.Open: %v", err)
	}
	defer func() { _ = store.Close() }()
	brk := breaker.New(breaker.Config{}, logger)
	ship, err := shipper.New(shipper.Options{
		Ingestor: &stubIngestor{}, Backlog: store, Breaker: brk, Policy: retry.Default(), Logger: logger,
	})
	if err != nil {
		t.Fatalf("shipper.New: %v", err)
	}
	col := collector.New(collector.Config{}, ship, alertlog.New(alertlog.Config{}), logger)
	r := NewRouter(col, ship, brk, store, &stubHealth{}, "api", false)

	w := doJSON(t, r.Handler(), http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prefixed status = %d", w.Code)
	}
}
