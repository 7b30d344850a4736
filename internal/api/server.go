package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fax-hunt/internal/game"
	"fax-hunt/internal/protocol"
)

// Server is the HTTP API with the realtime hub mounted on /ws.
type Server struct {
	session     GameSession
	router      *chi.Mux
	wsHub       *WebSocketHub
	ipLimiter   *IPRateLimiter
	httpServer  *http.Server
	shutdownTTL time.Duration
}

// NewServer builds the router and hub. Background workers do not start until
// Start is called, so tests can use Router without them.
func NewServer(cfg RouterConfig, hubCfg HubConfig) *Server {
	s := &Server{
		session:     cfg.Session,
		shutdownTTL: 5 * time.Second,
	}

	if cfg.IPRateLimiter == nil {
		ipCfg := DefaultIPRateLimitConfig
		if cfg.IPRateLimitConfig != nil {
			ipCfg = *cfg.IPRateLimitConfig
		}
		cfg.IPRateLimiter = NewIPRateLimiter(ipCfg)
	}
	s.ipLimiter = cfg.IPRateLimiter

	s.wsHub = NewWebSocketHub(hubCfg, NewOriginChecker(cfg.CORSOrigins), s.initialEvents, s.clientReset)
	if cfg.Connections == nil {
		cfg.Connections = s.wsHub
	}
	s.router = NewRouter(cfg)
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Hub returns the realtime hub; register it as a session publisher.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the hub and the IP limiter cleanup, then serves on addr until
// ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.wsHub.Run(ctx)
	go s.ipLimiter.Run(ctx)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 API server starting on %s", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTTL)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("🛑 API server stopped")
	return nil
}

func (s *Server) initialEvents() []protocol.Event {
	snap := s.session.Snapshot()
	return []protocol.Event{protocol.ObjectPosition{X: snap.Target.X, Y: snap.Target.Y}}
}

func (s *Server) clientReset(ctx context.Context) (bool, error) {
	return s.session.ResetIfEnded(ctx, game.ResetClient)
}
