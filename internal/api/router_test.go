package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fax-hunt/internal/game"
	"fax-hunt/internal/history"
	"fax-hunt/internal/ratelimit"
)

const testSecret = "foobar"

func startSession(t *testing.T, mutate func(*game.SessionConfig)) (*game.Session, *ratelimit.Limiter) {
	t.Helper()

	cfg := game.DefaultSessionConfig()
	cfg.Motion.Seed = 1
	cfg.TickInterval = time.Hour // target stays at the start point
	cfg.RosterInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	limiter := ratelimit.New(ratelimit.DefaultRules())
	session := game.NewSession(cfg, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go session.Run(ctx)

	return session, limiter
}

func newTestServer(t *testing.T, session *game.Session, limiter *ratelimit.Limiter) *httptest.Server {
	t.Helper()
	router := NewRouter(RouterConfig{
		Session:        session,
		Secret:         testSecret,
		Limiter:        limiter,
		TargetNoise:    10,
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func join(t *testing.T, ts *httptest.Server, clientID string) string {
	t.Helper()
	resp, body := doJSON(t, "POST", ts.URL+"/api/join", map[string]string{
		"clientId": clientID,
		"secret":   ClientSecret(testSecret, clientID),
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join %s: status %d, body %v", clientID, resp.StatusCode, body)
	}
	return body["token"].(string)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestJoinAdmissionLimit(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)

	for i := 0; i < 10; i++ {
		join(t, ts, fmt.Sprintf("client-%d", i))
	}

	resp, body := doJSON(t, "POST", ts.URL+"/api/join", map[string]string{
		"clientId": "client-x",
		"secret":   ClientSecret(testSecret, "client-x"),
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("11th join status = %d, want 429", resp.StatusCode)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry <= 0 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}
	if body["error"] != "Too many requests" || body["retryAfter"].(float64) != float64(retry) {
		t.Errorf("body = %v", body)
	}
}

func TestJoinValidation(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing secret", map[string]string{"clientId": "a"}, http.StatusBadRequest},
		{"missing client", map[string]string{"secret": "x"}, http.StatusBadRequest},
		{"wrong proof", map[string]string{"clientId": "a", "secret": "WRONG"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, "POST", ts.URL+"/api/join", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	if n := len(session.Snapshot().Players); n != 0 {
		t.Errorf("%d players registered by rejected joins", n)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)

	first := join(t, ts, "alice")
	second := join(t, ts, "alice")
	if first != second {
		t.Errorf("repeat join returned a new token")
	}
}

func TestFireFlow(t *testing.T) {
	session, limiter := startSession(t, func(c *game.SessionConfig) { c.HitRadius = 15 })
	ts := newTestServer(t, session, limiter)

	alice := join(t, ts, "alice")
	bob := join(t, ts, "bob")

	resp, _ := doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 1, "y": 1}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no header: status %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 1, "y": 1},
		map[string]string{"Authorization": "Token"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad header: status %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 2000, "y": 1}, bearer("unknown"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range: status %d, want 400", resp.StatusCode)
	}

	// Target sits at (400, 300) with radius 15.
	resp, body := doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 400, "y": 300}, bearer(alice))
	if resp.StatusCode != http.StatusOK || body["success"] != true || body["hit"] != true {
		t.Fatalf("hit: status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 400, "y": 300}, bearer(alice))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second shot inside 2s: status %d, want 429", resp.StatusCode)
	}

	resp, body = doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 400, "y": 300}, bearer(bob))
	if resp.StatusCode != http.StatusOK || body["success"] != false || body["message"] != game.MessageGameOver {
		t.Errorf("after win: status %d, body %v", resp.StatusCode, body)
	}
}

func TestFireMissingCoordinates(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)
	token := join(t, ts, "alice")

	resp, body := doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 10}, bearer(token))
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Invalid shot coordinates" {
		t.Errorf("status %d, body %v", resp.StatusCode, body)
	}
}

func TestTargetIsNoisedAndLimited(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)
	token := join(t, ts, "alice")

	resp, body := doJSON(t, "GET", ts.URL+"/api/target", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	x, y := body["x"].(float64), body["y"].(float64)
	if math.Abs(x-400) > 5 || math.Abs(y-300) > 5 {
		t.Errorf("target (%v, %v) more than 5px from (400, 300)", x, y)
	}

	resp, _ = doJSON(t, "GET", ts.URL+"/api/target", nil, bearer(token))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second query: status %d, want 429", resp.StatusCode)
	}

	resp, _ = doJSON(t, "GET", ts.URL+"/api/target", nil, bearer("stranger"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown token: status %d, want 400", resp.StatusCode)
	}
}

func TestTargetDelay(t *testing.T) {
	session, limiter := startSession(t, nil)
	router := NewRouter(RouterConfig{
		Session:        session,
		Secret:         testSecret,
		Limiter:        limiter,
		TargetDelay:    100 * time.Millisecond,
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()
	token := join(t, ts, "alice")

	start := time.Now()
	resp, _ := doJSON(t, "GET", ts.URL+"/api/target", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("answered after %s, want at least 100ms", elapsed)
	}
}

func TestOperatorEndpoints(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)
	operator := map[string]string{"X-Secret": testSecret}

	resp, _ := doJSON(t, "POST", ts.URL+"/api/configure", map[string]float64{"speed": 5}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("configure without secret: %d", resp.StatusCode)
	}

	resp, body := doJSON(t, "POST", ts.URL+"/api/configure", map[string]float64{"speed": 5, "area": 3}, operator)
	if resp.StatusCode != http.StatusOK || body["maxSpeed"] != 20.0 || body["hitRadius"] != 10.0 {
		t.Errorf("configure: status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/configure", map[string]string{"speed": "fast"}, operator)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("configure with string speed: %d, want 400", resp.StatusCode)
	}

	join(t, ts, "alice")
	resp, _ = doJSON(t, "POST", ts.URL+"/api/reset", nil, map[string]string{"X-Secret": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reset with wrong secret: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", ts.URL+"/api/reset", nil, operator)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset: %d", resp.StatusCode)
	}
	if n := len(session.Snapshot().Players); n != 0 {
		t.Errorf("%d players after reset", n)
	}
	if n := limiter.Len("127.0.0.1", ratelimit.EndpointJoin, time.Now()); n != 0 {
		t.Errorf("join window holds %d entries after reset", n)
	}
}

func TestSecretEndpoint(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)

	resp, body := doJSON(t, "POST", ts.URL+"/api/secret", map[string]string{"secret": testSecret, "clientId": "alice"}, nil)
	if resp.StatusCode != http.StatusOK || body["secret"] != ClientSecret(testSecret, "alice") {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/secret", map[string]string{"secret": "bad", "clientId": "alice"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad secret: %d", resp.StatusCode)
	}

	join(t, ts, "alice")
	resp, _ = doJSON(t, "POST", ts.URL+"/api/secret", map[string]string{"secret": testSecret, "clientId": "alice"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("playing client: %d, want 409", resp.StatusCode)
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)

	resp, body := doJSON(t, "GET", ts.URL+"/api/state", nil, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != string(game.StateActive) {
		t.Errorf("state: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "GET", ts.URL+"/api/schema", nil, nil)
	if resp.StatusCode != http.StatusOK || body["newShot"] == nil {
		t.Errorf("schema: %d %v", resp.StatusCode, body)
	}

	r, err := http.Get(ts.URL + "/health")
	if err != nil || r.StatusCode != http.StatusOK {
		t.Errorf("health: %v %v", r, err)
	}
}

func TestClientSecret(t *testing.T) {
	a := ClientSecret(testSecret, "alice")
	if len(a) != ClientSecretLength {
		t.Fatalf("len(%q) = %d", a, len(a))
	}
	for _, r := range a {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
			t.Fatalf("%q is not upper-case base 36", a)
		}
	}
	if a != ClientSecret(testSecret, "alice") {
		t.Error("not deterministic")
	}
	if a == ClientSecret(testSecret, "bob") || a == ClientSecret("other", "alice") {
		t.Error("secret does not depend on both inputs")
	}
	if !VerifyClientSecret(testSecret, "alice", a) || VerifyClientSecret(testSecret, "alice", "00000000") {
		t.Error("VerifyClientSecret mismatch")
	}
}

func TestOriginChecker(t *testing.T) {
	c := NewOriginChecker([]string{"http://localhost:*", "https://hunt.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://hunt.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		if got := c.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

type fakeRounds struct {
	limit   int
	err     error
	pingErr error
}

func (f *fakeRounds) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeRounds) RecentRounds(_ context.Context, limit int) ([]history.Round, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []history.Round{{ID: "r1", Winner: "alice", Shots: 3}}, nil
}

func TestOptionalEndpoints(t *testing.T) {
	session, limiter := startSession(t, nil)

	bare := newTestServer(t, session, limiter)
	for _, path := range []string{"/api/rounds", "/api/leaderboard", "/api/frame.png"} {
		if r, err := http.Get(bare.URL + path); err != nil || r.StatusCode != http.StatusNotFound {
			t.Errorf("%s without source: %v %v", path, r, err)
		}
	}

	board := game.NewLeaderboard()
	board.RecordWin("alice")
	board.RecordWin("alice")
	board.RecordWin("bob")
	rounds := &fakeRounds{}
	ts := httptest.NewServer(NewRouter(RouterConfig{
		Session:        session,
		Secret:         testSecret,
		Limiter:        limiter,
		Rounds:         rounds,
		Leaderboard:    board,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/leaderboard?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	var top []game.LeaderboardEntry
	json.NewDecoder(resp.Body).Decode(&top)
	resp.Body.Close()
	if len(top) != 1 || top[0].Username != "alice" || top[0].Wins != 2 {
		t.Errorf("leaderboard = %+v", top)
	}

	resp, err = http.Get(ts.URL + "/api/rounds")
	if err != nil {
		t.Fatal(err)
	}
	var list []history.Round
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].Winner != "alice" || rounds.limit != 20 {
		t.Errorf("rounds = %+v (limit %d)", list, rounds.limit)
	}

	for _, q := range []string{"0", "101", "x"} {
		if r, _ := doJSON(t, "GET", ts.URL+"/api/rounds?limit="+q, nil, nil); r.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status %d", q, r.StatusCode)
		}
	}

	rounds.err = fmt.Errorf("db down")
	if r, _ := doJSON(t, "GET", ts.URL+"/api/rounds", nil, nil); r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("failing store: status %d", r.StatusCode)
	}
}

func TestRemoveEndpoint(t *testing.T) {
	session, limiter := startSession(t, nil)
	ts := newTestServer(t, session, limiter)
	operator := map[string]string{"X-Secret": testSecret}
	token := join(t, ts, "alice")

	resp, _ := doJSON(t, "POST", ts.URL+"/api/remove", map[string]string{"token": token}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("remove without secret: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", ts.URL+"/api/remove", map[string]string{}, operator)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("remove without token: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/remove", map[string]string{"token": token}, operator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: %d", resp.StatusCode)
	}
	if session.Snapshot().HasToken(token) {
		t.Error("player still registered")
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/remove", map[string]string{"token": token}, operator)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second remove: %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", ts.URL+"/api/fire", map[string]float64{"x": 1, "y": 1}, bearer(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("fire after removal: %d, want 400", resp.StatusCode)
	}
}

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

type fakeConnections int

func (f fakeConnections) ClientCount() int { return int(f) }

func TestStatsEndpoint(t *testing.T) {
	session, limiter := startSession(t, nil)

	board := game.NewLeaderboard()
	board.RecordWin("alice")
	rounds := &fakeRounds{}
	ts := httptest.NewServer(NewRouter(RouterConfig{
		Session:        session,
		Secret:         testSecret,
		Limiter:        limiter,
		Rounds:         rounds,
		Leaderboard:    board,
		EventLog:       fakeStats{"dropped": 4},
		Connections:    fakeConnections(2),
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)
	join(t, ts, "alice")

	resp, body := doJSON(t, "GET", ts.URL+"/api/stats", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	if body["state"] != "active" || body["players"] != 1.0 || body["connections"] != 2.0 || body["rankedPlayers"] != 1.0 {
		t.Errorf("stats = %v", body)
	}
	if body["history"] != "ok" {
		t.Errorf("history = %v", body["history"])
	}
	if ev, ok := body["eventLog"].(map[string]any); !ok || ev["dropped"] != 4.0 {
		t.Errorf("eventLog = %v", body["eventLog"])
	}
	admission, _ := body["admission"].(map[string]any)
	if fire, ok := admission[ratelimit.EndpointFire].(map[string]any); !ok || fire["windowMs"] != 2000.0 || fire["max"] != 1.0 {
		t.Errorf("admission = %v", body["admission"])
	}
	if ip, ok := body["ipLimiter"].(map[string]any); !ok || ip["allowed"].(float64) < 1 {
		t.Errorf("ipLimiter = %v", body["ipLimiter"])
	}

	rounds.pingErr = fmt.Errorf("db down")
	if _, body := doJSON(t, "GET", ts.URL+"/api/stats", nil, nil); body["history"] != "unavailable" {
		t.Errorf("history with failing ping = %v", body["history"])
	}
}

func TestPlayerRankEndpoint(t *testing.T) {
	session, limiter := startSession(t, nil)
	board := game.NewLeaderboard()
	board.RecordWin("alice")
	board.RecordWin("alice")
	board.RecordWin("bob")
	ts := httptest.NewServer(NewRouter(RouterConfig{
		Session:        session,
		Secret:         testSecret,
		Limiter:        limiter,
		Leaderboard:    board,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)

	resp, body := doJSON(t, "GET", ts.URL+"/api/leaderboard/bob", nil, nil)
	if resp.StatusCode != http.StatusOK || body["username"] != "bob" || body["rank"] != 2.0 {
		t.Errorf("bob: %d %v", resp.StatusCode, body)
	}
	if resp, _ := doJSON(t, "GET", ts.URL+"/api/leaderboard/carol", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("carol: %d, want 404", resp.StatusCode)
	}
}
