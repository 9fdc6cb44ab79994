// Package health exposes a small liveness HTTP endpoint and the
// keepalive self-ping used on hosts that idle out quiet web services.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"yoteibot/internal/runtime/supervisor"
	"yoteibot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default 127.0.0.1:8080

	Keepalive bool
	PingURL   string // default derived from Addr

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Status is sampled on every /healthz request.
type Status struct {
	ArmedTriggers int       `json:"armed_triggers"`
	LastPoll      time.Time `json:"calendar_last_poll"`
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	status func() Status

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor

	started time.Time
	http    *http.Client
}

func New(cfg Config, status func() Status, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if status == nil {
		status = func() Status { return Status{} }
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		status: status,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "health"))))
	srv := s.srv
	s.sup.Go("http.serve", func(c context.Context) {
		s.log.Info("health endpoint listening", logx.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("health server exited", logx.Err(err))
		}
	})
	s.sup.Go("http.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	grace := 3 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if err := sup.Stop(grace); err != nil {
		s.log.Warn("health stop timed out", logx.Err(err))
	}
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Status        string    `json:"status"`
		Uptime        string    `json:"uptime"`
		ArmedTriggers int       `json:"armed_triggers"`
		LastPoll      time.Time `json:"calendar_last_poll,omitempty"`
	}{
		Status:        "ok",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		ArmedTriggers: st.ArmedTriggers,
		LastPoll:      st.LastPoll,
	})
}

// Ping performs the keepalive self-request. Wired as the recurring
// self-ping trigger's action.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled && s.cfg.Keepalive
	url := s.cfg.PingURL
	addr := s.cfg.Addr
	s.mu.Unlock()
	if !enabled {
		return nil
	}
	if url == "" {
		host := addr
		if strings.HasPrefix(host, ":") {
			host = "127.0.0.1" + host
		}
		url = "http://" + host + "/healthz"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("keepalive ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("keepalive ping: http %d", resp.StatusCode)
	}
	s.log.Debug("keepalive ping ok", logx.String("url", url))
	return nil
}
