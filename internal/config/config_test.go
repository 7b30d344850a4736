package config

import (
	"testing"
	"time"

	"fax-hunt/internal/ratelimit"
)

func TestDefaultsMatchStockGame(t *testing.T) {
	for _, key := range []string{"PORT", "SECRET", "MAX_PLAYERS", "TICK_MS", "DATABASE_URL", "DISABLE_DEBUG_SERVER"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.Server.Port != 3000 || cfg.Server.Secret != DefaultSecret {
		t.Errorf("server = %+v", cfg.Server)
	}
	sc := cfg.Game.Session()
	if sc.MaxPlayers != 10 || sc.TickInterval != 50*time.Millisecond || sc.HitRadius != 20 {
		t.Errorf("session = %+v", sc)
	}
	if sc.ResetDelay != 20*time.Second || sc.Motion.MinSpeed != 20 || sc.Motion.MaxSpeed != 60 {
		t.Errorf("session motion = %+v", sc.Motion)
	}

	rules := cfg.Limits.Rules()
	want := ratelimit.DefaultRules()
	for endpoint, rule := range want {
		if rules[endpoint] != rule {
			t.Errorf("rule %s = %+v, want %+v", endpoint, rules[endpoint], rule)
		}
	}

	if cfg.TargetQuery.Delay != 100*time.Millisecond || cfg.TargetQuery.Noise != 10 {
		t.Errorf("target query = %+v", cfg.TargetQuery)
	}
	if !cfg.Debug.Enabled || cfg.History.Enabled() {
		t.Errorf("debug %+v history %+v", cfg.Debug, cfg.History)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SECRET", "s3cret")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ALLOW_CLIENT_RESET", "true")
	t.Setenv("MAX_PLAYERS", "4")
	t.Setenv("TICK_MS", "20")
	t.Setenv("MAX_SPEED", "90")
	t.Setenv("RESET_DELAY_MS", "1500")
	t.Setenv("GAME_SEED", "42")
	t.Setenv("FIRE_LIMIT", "3")
	t.Setenv("TARGET_DELAY_MS", "0")
	t.Setenv("TARGET_NOISE", "0")
	t.Setenv("DISABLE_DEBUG_SERVER", "1")
	t.Setenv("DATABASE_URL", "postgres://localhost/hunt")
	t.Setenv("EVENT_LOG_PATH", "events.jsonl")

	cfg := Load()

	if cfg.Server.Addr() != ":8080" || cfg.Server.Secret != "s3cret" || !cfg.Server.AllowClientReset {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("origins = %q", cfg.Server.CORSOrigins)
	}

	sc := cfg.Game.Session()
	if sc.MaxPlayers != 4 || sc.TickInterval != 20*time.Millisecond || sc.Motion.MaxSpeed != 90 {
		t.Errorf("session = %+v", sc)
	}
	if sc.ResetDelay != 1500*time.Millisecond || sc.Motion.Seed != 42 {
		t.Errorf("reset delay %v seed %d", sc.ResetDelay, sc.Motion.Seed)
	}
	if r := cfg.Limits.Rules()[ratelimit.EndpointFire]; r.Max != 3 || r.Window != 2*time.Second {
		t.Errorf("fire rule = %+v", r)
	}
	if cfg.TargetQuery.Delay != 0 || cfg.TargetQuery.Noise != 0 {
		t.Errorf("target query = %+v", cfg.TargetQuery)
	}
	if cfg.Debug.Enabled || !cfg.History.Enabled() || cfg.History.EventLogPath != "events.jsonl" {
		t.Errorf("debug %+v history %+v", cfg.Debug, cfg.History)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "abc")
	t.Setenv("TICK_MS", "-5")
	t.Setenv("ALLOW_CLIENT_RESET", "maybe")

	cfg := Load()
	if cfg.Server.Port != 3000 || cfg.Game.Tick != 50*time.Millisecond || cfg.Server.AllowClientReset {
		t.Errorf("server %+v tick %v", cfg.Server, cfg.Game.Tick)
	}
}

func TestClientFromEnv(t *testing.T) {
	t.Setenv("BASE_URL", "http://game:3000")
	t.Setenv("CLIENT_ID", "bot-1")
	t.Setenv("CLIENT_SECRET", "ABCDEFGH")
	t.Setenv("MAX_ROUNDS", "12")

	cfg := ClientFromEnv()
	if cfg.BaseURL != "http://game:3000" || cfg.WSURL != "ws://localhost:3000/ws" {
		t.Errorf("urls = %+v", cfg)
	}
	if cfg.ClientID != "bot-1" || cfg.ClientSecret != "ABCDEFGH" || cfg.MaxRounds != 12 || cfg.Codec != "json" {
		t.Errorf("client = %+v", cfg)
	}
}
