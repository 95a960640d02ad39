// Package gateway exposes session state over HTTP and streams loop events
// over websockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Sessions is the session API the gateway serves. *session.Ledger
// implements it.
type Sessions interface {
	List(ctx context.Context) ([]*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Pause(ctx context.Context, id string) (*session.Session, error)
	Resume(ctx context.Context, id string) (*session.Session, error)
	Report(s *session.Session) session.Report
}

// Tickets lists tickets. ticket.Store implements it.
type Tickets interface {
	ListTickets(ctx context.Context, f ticket.Filter) ([]*ticket.Ticket, error)
}

// Server serves the REST API and websocket stream.
type Server struct {
	cfg      *Config
	sessions Sessions
	tickets  Tickets
	hub      *Hub
	tokens   *TokenService
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer creates a server. Auth is enabled when cfg.JWTSecret is set.
func NewServer(cfg *Config, sessions Sessions, tickets Tickets, hub *Hub) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		tickets:  tickets,
		hub:      hub,
		log:      logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	if cfg.JWTSecret != "" {
		s.tokens = NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	}
	return s
}

// Tokens returns the token service, nil when auth is disabled.
func (s *Server) Tokens() *TokenService { return s.tokens }

// checkOrigin accepts same-origin and CLI clients plus localhost pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.tokens != nil {
			r.Use(s.tokens.Middleware)
		}
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/tickets", s.handleListTickets)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
			})
		})
		r.Get("/ws/sessions/{sessionID}", s.handleSessionStream)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("Gateway starting", slog.String("addr", srv.Addr), slog.Bool("auth", s.tokens != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.log.Info("Gateway stopped")
	return nil
}
