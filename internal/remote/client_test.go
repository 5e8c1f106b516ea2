package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loykin/slamon/internal/event"
)

func TestIngestSendsAuthorizedJSON(t *testing.T) {
	var gotAuth, gotCT string
	var gotReq ingestRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, Dataset: "support-monitoring", Token: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ev := event.New("chat", event.KindMeasurement, map[string]any{"elapsed_seconds": 2.0})
	if err := c.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("missing bearer token: %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Fatalf("content type = %q", gotCT)
	}
	if gotReq.Dataset != "support-monitoring" || len(gotReq.Events) != 1 || gotReq.Events[0].ID != ev.ID {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retriable bool
	}{
		{http.StatusUnauthorized, ErrorAuth, false},
		{http.StatusForbidden, ErrorAuth, false},
		{http.StatusTooManyRequests, ErrorRateLimit, true},
		{http.StatusInternalServerError, ErrorServer, true},
		{http.StatusServiceUnavailable, ErrorServer, true},
		{http.StatusBadRequest, ErrorRejected, false},
	}
	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		c, err := New(Config{URL: srv.URL})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		err = c.Ingest(context.Background(), event.New("chat", event.KindMeasurement, nil))
		srv.Close()
		var ie *Error
		if !errors.As(err, &ie) {
			t.Fatalf("status %d: expected *Error, got %v", tc.status, err)
		}
		if ie.Kind != tc.kind {
			t.Fatalf("status %d classified as %s, want %s", tc.status, ie.Kind, tc.kind)
		}
		if Retriable(err) != tc.retriable {
			t.Fatalf("status %d retriable=%v, want %v", tc.status, Retriable(err), tc.retriable)
		}
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Ingest(context.Background(), event.New("chat", event.KindMeasurement, nil))
	if KindOf(err) != ErrorNetwork {
		t.Fatalf("transport failure classified as %s, want network", KindOf(err))
	}
	if !Retriable(err) {
		t.Fatalf("network error should be retriable")
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Events) != 1 || req.Events[0].Payload["health_check"] != true {
			t.Errorf("health probe payload: %+v", req)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	latency, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if latency < 0 {
		t.Fatalf("negative latency %v", latency)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("New accepted empty URL")
	}
}
