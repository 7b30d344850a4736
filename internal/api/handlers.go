package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/rand"

	"fax-hunt/internal/game"
	"fax-hunt/internal/protocol"
	"fax-hunt/internal/ratelimit"
)

// Handler methods for routerHandlers. Shared by NewRouter and Server.

type joinRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
	Name     string `json:"name,omitempty"`
}

func (h *routerHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" || req.Secret == "" {
		writeError(w, "Invalid join request", http.StatusBadRequest)
		return
	}
	if !VerifyClientSecret(h.secret, req.ClientID, req.Secret) {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	view, err := h.session.Join(r.Context(), game.JoinRequest{Identity: req.ClientID, Name: req.Name})
	switch {
	case errors.Is(err, game.ErrPlayerCap):
		writeError(w, "Max number of users reached. Please try again later.", http.StatusForbidden)
	case errors.Is(err, game.ErrNameTaken):
		writeError(w, "Name already taken", http.StatusConflict)
	case err != nil:
		h.writeSessionError(w, err)
	default:
		writeJSON(w, view)
	}
}

type fireRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (h *routerHandlers) handleFire(w http.ResponseWriter, r *http.Request) {
	if h.session.Snapshot().State == game.StateEnded {
		writeJSON(w, game.FireResult{Message: game.MessageGameOver})
		return
	}

	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.X == nil || req.Y == nil {
		writeError(w, "Invalid shot coordinates", http.StatusBadRequest)
		return
	}

	result, err := h.session.Fire(r.Context(), tokenFromContext(r.Context()), *req.X, *req.Y)
	switch {
	case errors.Is(err, game.ErrInvalidShot):
		writeError(w, "Invalid shot coordinates", http.StatusBadRequest)
	case errors.Is(err, game.ErrUnknownToken):
		writeError(w, "Invalid token", http.StatusBadRequest)
	case err != nil:
		h.writeSessionError(w, err)
	default:
		writeJSON(w, result)
	}
}

func (h *routerHandlers) handleTarget(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	if !snap.HasToken(tokenFromContext(r.Context())) {
		writeError(w, "Invalid token", http.StatusBadRequest)
		return
	}
	pos := snap.Target

	// Simulated latency. The handler goroutine parks; nothing else waits on it.
	select {
	case <-time.After(h.targetDelay):
	case <-r.Context().Done():
		return
	}

	writeJSON(w, game.Vec{
		X: pos.X + (rand.Float64()*h.targetNoise - h.targetNoise/2),
		Y: pos.Y + (rand.Float64()*h.targetNoise - h.targetNoise/2),
	})
}

type configureRequest struct {
	Speed *float64 `json:"speed"`
	Area  *float64 `json:"area"`
}

func (h *routerHandlers) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid configuration", http.StatusBadRequest)
		return
	}

	result, err := h.session.Configure(r.Context(), game.Tuning{Speed: req.Speed, Area: req.Area})
	if errors.Is(err, game.ErrInvalidTuning) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"message":   "Configuration updated successfully",
		"maxSpeed":  result.MaxSpeed,
		"hitRadius": result.HitRadius,
	})
}

func (h *routerHandlers) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reset(r.Context(), game.ResetOperator); err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Game reset successfully"})
}

type removeRequest struct {
	Token string `json:"token"`
}

func (h *routerHandlers) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, "token is required", http.StatusBadRequest)
		return
	}

	removed, err := h.session.Remove(r.Context(), req.Token)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if !removed {
		writeError(w, "Unknown player", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"message": "Player removed"})
}

type secretRequest struct {
	Secret   string `json:"secret"`
	ClientID string `json:"clientId"`
}

func (h *routerHandlers) handleSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" || req.ClientID == "" {
		writeError(w, "secret and clientId are required", http.StatusBadRequest)
		return
	}
	if req.Secret != h.secret {
		writeError(w, "Invalid secret", http.StatusUnauthorized)
		return
	}
	if h.session.Snapshot().HasIdentity(req.ClientID) {
		writeError(w, "clientId already playing", http.StatusConflict)
		return
	}

	writeJSON(w, map[string]string{
		"clientId": req.ClientID,
		"secret":   ClientSecret(h.secret, req.ClientID),
	})
}

func (h *routerHandlers) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.session.Snapshot())
}

// pinger is implemented by stores that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

func (h *routerHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	stats := map[string]interface{}{
		"state":     snap.State,
		"players":   len(snap.Players),
		"tick":      snap.Tick,
		"admission": h.admissionRules(),
		"ipLimiter": h.ipLimiter.GetStats(),
	}
	if h.connections != nil {
		stats["connections"] = h.connections.ClientCount()
	}
	if h.eventLog != nil {
		stats["eventLog"] = h.eventLog.GetStats()
	}
	if h.leaderboard != nil {
		stats["rankedPlayers"] = h.leaderboard.Length()
	}
	if p, ok := h.rounds.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		stats["history"] = "ok"
		if err := p.Ping(ctx); err != nil {
			stats["history"] = "unavailable"
		}
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) admissionRules() map[string]interface{} {
	rules := make(map[string]interface{})
	for _, endpoint := range []string{ratelimit.EndpointJoin, ratelimit.EndpointFire, ratelimit.EndpointTarget} {
		if rule, ok := h.limiter.Rule(endpoint); ok {
			rules[endpoint] = map[string]interface{}{
				"windowMs": rule.Window.Milliseconds(),
				"max":      rule.Max,
			}
		}
	}
	return rules
}

func (h *routerHandlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, protocol.Schema())
}

func (h *routerHandlers) handleFrame(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.frames.RenderPNG(w); err != nil {
		log.Printf("⚠️ Frame render failed: %v", err)
		return
	}
	RecordRender(time.Since(start))
}

// queryLimit reads ?limit in [1, 100]. It writes the 400 itself and
// reports false on a bad value.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 100 {
		writeError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (h *routerHandlers) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 10)
	if !ok {
		return
	}
	writeJSON(w, h.leaderboard.GetTop(limit))
}

func (h *routerHandlers) handlePlayerRank(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	rank := h.leaderboard.GetRank(username)
	if rank == 0 {
		writeError(w, "No wins recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"username": username, "rank": rank})
}

func (h *routerHandlers) handleRounds(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 20)
	if !ok {
		return
	}

	rounds, err := h.rounds.RecentRounds(r.Context(), limit)
	if err != nil {
		log.Printf("⚠️ Loading rounds failed: %v", err)
		writeError(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rounds)
}

func (h *routerHandlers) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrSessionClosed):
		writeError(w, "game is shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nobody is reading the response.
	default:
		log.Printf("❌ Session error: %v", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	writeStatusJSON(w, http.StatusOK, data)
}

func writeStatusJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeStatusJSON(w, code, map[string]string{"error": message})
}
