package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fax-hunt/internal/game"
	"fax-hunt/internal/history"
	"fax-hunt/internal/ratelimit"
)

// GameSession is the part of *game.Session the API calls. Kept small so
// tests can substitute a fake.
type GameSession interface {
	Join(ctx context.Context, req game.JoinRequest) (game.PlayerView, error)
	Fire(ctx context.Context, token string, x, y float64) (game.FireResult, error)
	Reset(ctx context.Context, reason string) error
	ResetIfEnded(ctx context.Context, reason string) (bool, error)
	Configure(ctx context.Context, t game.Tuning) (game.TuningResult, error)
	Remove(ctx context.Context, token string) (bool, error)
	Snapshot() *game.Snapshot
}

// FrameSource renders the playfield as a PNG.
type FrameSource interface {
	RenderPNG(w io.Writer) error
}

// RoundLister serves past rounds.
type RoundLister interface {
	RecentRounds(ctx context.Context, limit int) ([]history.Round, error)
}

// Rankings serves the win leaderboard.
type Rankings interface {
	GetTop(n int) []game.LeaderboardEntry
	GetRank(username string) int
	Length() int
}

// StatsSource reports counters for /api/stats.
type StatsSource interface {
	GetStats() map[string]interface{}
}

// ConnectionCounter reports open realtime connections.
type ConnectionCounter interface {
	ClientCount() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Session:        session,
//	    Secret:         "test",
//	    DisableLogging: true,
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Session is the running game (required).
	Session GameSession

	// Secret is the operator secret, also used to derive client secrets.
	Secret string

	// Limiter enforces the join/fire/target budgets. If nil, one is created
	// with ratelimit.DefaultRules; pass the limiter the session resets to keep
	// the two in sync.
	Limiter *ratelimit.Limiter

	// IPRateLimiter is the outer per-IP flood guard. If nil, one is created
	// from IPRateLimitConfig (or DefaultIPRateLimitConfig).
	IPRateLimiter     *IPRateLimiter
	IPRateLimitConfig *IPRateLimitConfig

	// CORSOrigins lists allowed origins. Nil means DefaultOrigins.
	CORSOrigins []string

	// TargetDelay and TargetNoise shape /api/target responses.
	TargetDelay time.Duration
	TargetNoise float64

	// Frames serves /api/frame.png when set.
	Frames FrameSource

	// Rounds serves /api/rounds when set.
	Rounds RoundLister

	// Leaderboard serves /api/leaderboard when set.
	Leaderboard Rankings

	// EventLog and Connections add their counters to /api/stats when set.
	EventLog    StatsSource
	Connections ConnectionCounter

	// DisableLogging disables the request logger middleware.
	DisableLogging bool
}

type routerHandlers struct {
	session     GameSession
	secret      string
	limiter     *ratelimit.Limiter
	ipLimiter   *IPRateLimiter
	targetDelay time.Duration
	targetNoise float64
	frames      FrameSource
	rounds      RoundLister
	leaderboard Rankings
	eventLog    StatsSource
	connections ConnectionCounter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter is pure: it starts no goroutines and opens no listeners, so it is
// safe to mount on httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	// Flood guard before CORS to reject early.
	ipLimiter := cfg.IPRateLimiter
	if ipLimiter == nil {
		ipCfg := DefaultIPRateLimitConfig
		if cfg.IPRateLimitConfig != nil {
			ipCfg = *cfg.IPRateLimitConfig
		}
		ipLimiter = NewIPRateLimiter(ipCfg)
	}
	r.Use(ipLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = DefaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Secret"},
		ExposedHeaders: []string{"Retry-After"},
	}))

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultRules())
	}

	h := &routerHandlers{
		session:     cfg.Session,
		secret:      cfg.Secret,
		limiter:     limiter,
		ipLimiter:   ipLimiter,
		targetDelay: cfg.TargetDelay,
		targetNoise: cfg.TargetNoise,
		frames:      cfg.Frames,
		rounds:      cfg.Rounds,
		leaderboard: cfg.Leaderboard,
		eventLog:    cfg.EventLog,
		connections: cfg.Connections,
	}

	r.Route("/api", func(r chi.Router) {
		// Players
		r.With(Admission(limiter, ratelimit.EndpointJoin, identityByIP)).Post("/join", h.handleJoin)
		r.With(RequireBearer, Admission(limiter, ratelimit.EndpointFire, identityByToken)).Post("/fire", h.handleFire)
		r.With(RequireBearer, Admission(limiter, ratelimit.EndpointTarget, identityByToken)).Get("/target", h.handleTarget)
		r.Post("/secret", h.handleSecret)

		// Operator
		r.Group(func(r chi.Router) {
			r.Use(RequireOperator(cfg.Secret))
			r.Post("/configure", h.handleConfigure)
			r.Post("/reset", h.handleReset)
			r.Post("/remove", h.handleRemove)
		})

		// Read-only
		r.Get("/state", h.handleState)
		r.Get("/schema", h.handleSchema)
		r.Get("/stats", h.handleStats)
		if cfg.Frames != nil {
			r.Get("/frame.png", h.handleFrame)
		}
		if cfg.Rounds != nil {
			r.Get("/rounds", h.handleRounds)
		}
		if cfg.Leaderboard != nil {
			r.Get("/leaderboard", h.handleLeaderboard)
			r.Get("/leaderboard/{username}", h.handlePlayerRank)
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	return r
}

// instrument records latency per route pattern, keeping label cardinality
// bounded.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, pattern, status, time.Since(start))
	})
}
