package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fax-hunt/internal/game"
)

// Metrics with bounded cardinality: no per-player labels.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_tick_duration_seconds",
		Help:    "Time spent in a motion tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_render_duration_seconds",
		Help:    "Time spent rendering a playfield frame",
		Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_player_count",
		Help: "Players in the current game",
	})

	shotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_shots_total",
		Help: "Resolved shots",
	}, []string{"result"}) // "hit", "miss"

	winsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_wins_total",
		Help: "Games ended by a hit",
	})

	resetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_resets_total",
		Help: "Game resets",
	}, []string{"reason"}) // "auto", "operator", "client"

	admissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_rejected_total",
		Help: "Requests denied by the sliding-window limiter",
	}, []string{"endpoint"}) // "join", "fire", "target"

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by the flood guard or origin check",
	}, []string{"reason"}) // "rate_limit", "origin", "ws_ip_limit", "ws_total_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently open realtime connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Events broadcast to realtime connections",
	})

	wsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_dropped_total",
		Help: "Events dropped because a connection's queue was full",
	})
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // loopback only unless AllowExternal
	AllowExternal bool
	BasicAuthUser string
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugHandler serves pprof, Prometheus metrics and a health check.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer serves DebugHandler until ctx is cancelled. pprof can be
// used to stall the process, so the listener is forced onto loopback unless
// AllowExternal is set.
func StartDebugServer(ctx context.Context, cfg ObservabilityConfig) {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return
	}

	if !cfg.AllowExternal && !isLoopback(cfg.ListenAddr) {
		log.Printf("⚠️ Debug server address %s is not loopback, using 127.0.0.1:6060", cfg.ListenAddr)
		cfg.ListenAddr = "127.0.0.1:6060"
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordTick records motion tick timing.
func RecordTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// RecordRender records frame render timing.
func RecordRender(d time.Duration) {
	renderDuration.Observe(d.Seconds())
}

// UpdatePlayerCount sets the player gauge.
func UpdatePlayerCount(count int) {
	playerCount.Set(float64(count))
}

// RecordShot counts a resolved shot.
func RecordShot(hit bool) {
	if hit {
		shotsTotal.WithLabelValues("hit").Inc()
		return
	}
	shotsTotal.WithLabelValues("miss").Inc()
}

// RecordWin counts a finished game.
func RecordWin() {
	winsTotal.Inc()
}

// RecordReset counts a reset. reason is one of the game.Reset* constants.
func RecordReset(reason string) {
	resetsTotal.WithLabelValues(reason).Inc()
}

// RecordAdmissionRejected counts a 429 from the sliding-window limiter.
func RecordAdmissionRejected(endpoint string) {
	admissionRejected.WithLabelValues(endpoint).Inc()
}

// RecordConnectionRejected counts a rejected connection or request.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, endpoint string, status int, d time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(d.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections sets the realtime connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one broadcast.
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

// IncrementWSDropped counts an event dropped for a slow connection.
func IncrementWSDropped() {
	wsDroppedTotal.Inc()
}

// MetricsHooks reports session activity to Prometheus.
func MetricsHooks() game.Hooks {
	return game.Hooks{
		OnTick: RecordTick,
		OnShot: func(_ string, _ game.Vec, hit bool) {
			RecordShot(hit)
		},
		OnWin: func(string) {
			RecordWin()
		},
		OnReset:  RecordReset,
		OnRoster: UpdatePlayerCount,
	}
}
