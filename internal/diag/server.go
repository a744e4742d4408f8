// Package diag serves operational endpoints over HTTP: a health probe
// backed by the store, a JSON stats snapshot and the pprof handlers.
//
// Binding to loopback is the default; a non-loopback address is refused by
// config validation unless a token is set.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "joinme/internal/runtime/supervisor"
	logx "joinme/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string
}

// Probes supply the data the endpoints report.
type Probes struct {
	// Health returns nil when the process can do useful work.
	Health func(ctx context.Context) error
	// Stats returns a JSON-encodable snapshot.
	Stats func(ctx context.Context) (any, error)
}

const probeTimeout = 3 * time.Second

type Server struct {
	mu     sync.Mutex
	cfg    Config
	probes Probes
	log    logx.Logger

	sup  *rtsup.Supervisor
	addr string // bound address while serving
}

func New(cfg Config, probes Probes, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, probes: probes, log: log.With(logx.String("comp", "diag"))}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start begins serving when enabled. It is idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))

	srv := &http.Server{
		Handler:           s.handler(s.cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("diagnostics listening", logx.String("addr", s.addr), logx.Bool("token_set", s.cfg.Token != ""))
	return nil
}

// Stop shuts the server down and waits until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.addr = ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("diagnostics stop", logx.Err(err))
	}
	s.log.Info("diagnostics stopped")
}

// Reconfigure applies cfg, restarting the listener when it changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		s.Stop(stopCtx)
		cancel()
	}
	if cfg.Enabled {
		return s.Start(ctx)
	}
	return nil
}

func (s *Server) handler(token string) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", auth(s.health))
	mux.HandleFunc("/stats", auth(s.stats))
	mux.HandleFunc("/debug/pprof/", auth(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", auth(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", auth(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", auth(hpprof.Trace))
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.probes.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		if err := s.probes.Health(ctx); err != nil {
			s.log.Warn("health probe failed", logx.Err(err))
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.probes.Stats == nil {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	v, err := s.probes.Stats(ctx)
	if err != nil {
		s.log.Warn("stats probe failed", logx.Err(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
