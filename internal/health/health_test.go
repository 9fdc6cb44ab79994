package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"yoteibot/pkg/logx"
)

func TestHealthzHandler(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true}, func() Status {
		return Status{ArmedTriggers: 5, LastPoll: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)}
	}, logx.Nop())
	svc.started = time.Now()

	rec := httptest.NewRecorder()
	svc.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Status        string `json:"status"`
		ArmedTriggers int    `json:"armed_triggers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
	if body.Status != "ok" || body.ArmedTriggers != 5 {
		t.Fatalf("body %+v", body)
	}
}

func TestHealthzRejectsPost(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true}, nil, logx.Nop())
	rec := httptest.NewRecorder()
	svc.handleHealthz(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestPingDisabled(t *testing.T) {
	t.Parallel()

	// Keepalive off: Ping is a no-op and never dials.
	svc := New(Config{Enabled: true, Keepalive: false, PingURL: "http://127.0.0.1:1/healthz"}, nil, logx.Nop())
	if err := svc.Ping(context.Background()); err != nil {
		t.Fatalf("disabled ping errored: %v", err)
	}
}

func TestPingHitsEndpoint(t *testing.T) {
	t.Parallel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	svc := New(Config{Enabled: true, Keepalive: true, PingURL: ts.URL}, nil, logx.Nop())
	if err := svc.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d", hits)
	}
}
