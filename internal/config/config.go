// Package config provides centralized configuration management.
// Every tunable of the server and the bundled clients lives here; binaries
// call Load (or a single XFromEnv) after loading .env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"fax-hunt/internal/game"
	"fax-hunt/internal/ratelimit"
)

// DefaultSecret is the operator secret used when SECRET is unset. Only fit
// for local play.
const DefaultSecret = "foobar"

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP and realtime server settings.
type ServerConfig struct {
	Port                int
	Secret              string
	CORSOrigins         []string // nil means localhost only
	AllowClientReset    bool     // honour resetGame messages from viewers
	MaxConnections      int
	MaxConnectionsPerIP int
	FontPath            string // label font for /api/frame.png
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:                3000,
		Secret:              DefaultSecret,
		MaxConnections:      500,
		MaxConnectionsPerIP: 10,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if s := os.Getenv("SECRET"); s != "" {
		cfg.Secret = s
	}
	if origins := getEnvList("CORS_ORIGINS"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.AllowClientReset = getEnvBool("ALLOW_CLIENT_RESET", cfg.AllowClientReset)
	if n := getEnvInt("MAX_CONNECTIONS", 0); n > 0 {
		cfg.MaxConnections = n
	}
	if n := getEnvInt("MAX_CONNECTIONS_PER_IP", 0); n > 0 {
		cfg.MaxConnectionsPerIP = n
	}
	cfg.FontPath = os.Getenv("FONT_PATH")

	return cfg
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// =============================================================================
// GAME CONFIGURATION
// =============================================================================

// GameConfig holds the simulation and session settings.
type GameConfig struct {
	MaxPlayers   int
	Tick         time.Duration
	MinSpeed     float64 // px per tick
	MaxSpeed     float64
	HitRadius    float64
	ResetDelay   time.Duration
	ChangeChance float64
	Seed         uint64 // 0 picks a time-based seed
}

// DefaultGame returns the stock game.
func DefaultGame() GameConfig {
	def := game.DefaultSessionConfig()
	return GameConfig{
		MaxPlayers:   def.MaxPlayers,
		Tick:         def.TickInterval,
		MinSpeed:     def.Motion.MinSpeed,
		MaxSpeed:     def.Motion.MaxSpeed,
		HitRadius:    def.HitRadius,
		ResetDelay:   def.ResetDelay,
		ChangeChance: def.Motion.ChangeChance,
	}
}

// GameFromEnv returns game configuration with environment variable overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()

	if n := getEnvInt("MAX_PLAYERS", 0); n > 0 {
		cfg.MaxPlayers = n
	}
	if ms := getEnvInt("TICK_MS", 0); ms > 0 {
		cfg.Tick = time.Duration(ms) * time.Millisecond
	}
	if v := getEnvFloat("MIN_SPEED", 0); v > 0 {
		cfg.MinSpeed = v
	}
	if v := getEnvFloat("MAX_SPEED", 0); v > 0 {
		cfg.MaxSpeed = v
	}
	if v := getEnvFloat("HIT_RADIUS", 0); v > 0 {
		cfg.HitRadius = v
	}
	if ms := getEnvInt("RESET_DELAY_MS", 0); ms > 0 {
		cfg.ResetDelay = time.Duration(ms) * time.Millisecond
	}
	if s := getEnvInt("GAME_SEED", 0); s > 0 {
		cfg.Seed = uint64(s)
	}

	return cfg
}

// Session builds the session configuration.
func (c GameConfig) Session() game.SessionConfig {
	sc := game.DefaultSessionConfig()
	sc.MaxPlayers = c.MaxPlayers
	sc.TickInterval = c.Tick
	sc.Motion.MinSpeed = c.MinSpeed
	sc.Motion.MaxSpeed = c.MaxSpeed
	sc.Motion.ChangeChance = c.ChangeChance
	sc.HitRadius = c.HitRadius
	sc.ResetDelay = c.ResetDelay
	if c.Seed != 0 {
		sc.Motion.Seed = c.Seed
	}
	return sc
}

// =============================================================================
// ADMISSION LIMITS
// =============================================================================

// LimitsConfig holds the per-endpoint sliding window budgets.
type LimitsConfig struct {
	JoinWindow   time.Duration
	JoinMax      int
	FireWindow   time.Duration
	FireMax      int
	TargetWindow time.Duration
	TargetMax    int

	// SweepInterval is how often idle windows are dropped.
	SweepInterval time.Duration
}

// DefaultLimits returns 10 joins a minute, one shot per 2s and one target
// query per second.
func DefaultLimits() LimitsConfig {
	rules := ratelimit.DefaultRules()
	return LimitsConfig{
		JoinWindow:    rules[ratelimit.EndpointJoin].Window,
		JoinMax:       rules[ratelimit.EndpointJoin].Max,
		FireWindow:    rules[ratelimit.EndpointFire].Window,
		FireMax:       rules[ratelimit.EndpointFire].Max,
		TargetWindow:  rules[ratelimit.EndpointTarget].Window,
		TargetMax:     rules[ratelimit.EndpointTarget].Max,
		SweepInterval: time.Minute,
	}
}

// LimitsFromEnv returns limits with environment variable overrides.
func LimitsFromEnv() LimitsConfig {
	cfg := DefaultLimits()

	if n := getEnvInt("JOIN_LIMIT", 0); n > 0 {
		cfg.JoinMax = n
	}
	if n := getEnvInt("FIRE_LIMIT", 0); n > 0 {
		cfg.FireMax = n
	}
	if n := getEnvInt("TARGET_LIMIT", 0); n > 0 {
		cfg.TargetMax = n
	}
	if ms := getEnvInt("FIRE_WINDOW_MS", 0); ms > 0 {
		cfg.FireWindow = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvInt("TARGET_WINDOW_MS", 0); ms > 0 {
		cfg.TargetWindow = time.Duration(ms) * time.Millisecond
	}

	return cfg
}

// Rules converts the budgets for ratelimit.New.
func (c LimitsConfig) Rules() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		ratelimit.EndpointJoin:   {Window: c.JoinWindow, Max: c.JoinMax},
		ratelimit.EndpointFire:   {Window: c.FireWindow, Max: c.FireMax},
		ratelimit.EndpointTarget: {Window: c.TargetWindow, Max: c.TargetMax},
	}
}

// =============================================================================
// TARGET QUERY
// =============================================================================

// TargetQueryConfig shapes /api/target responses.
type TargetQueryConfig struct {
	Delay time.Duration
	Noise float64 // total width of the uniform noise, px
}

func DefaultTargetQuery() TargetQueryConfig {
	return TargetQueryConfig{
		Delay: 100 * time.Millisecond,
		Noise: 10,
	}
}

func TargetQueryFromEnv() TargetQueryConfig {
	cfg := DefaultTargetQuery()

	if ms := getEnvInt("TARGET_DELAY_MS", -1); ms >= 0 {
		cfg.Delay = time.Duration(ms) * time.Millisecond
	}
	if v := getEnvFloat("TARGET_NOISE", -1); v >= 0 {
		cfg.Noise = v
	}

	return cfg
}

// =============================================================================
// DEBUG SERVER
// =============================================================================

// DebugConfig controls the pprof/metrics listener.
type DebugConfig struct {
	Enabled bool
	Addr    string
}

func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled: true,
		Addr:    "127.0.0.1:6060",
	}
}

func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	if getEnvBool("DISABLE_DEBUG_SERVER", false) {
		cfg.Enabled = false
	}
	if addr := os.Getenv("DEBUG_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	return cfg
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryConfig enables the PostgreSQL round history when DatabaseURL is set
// and the JSONL event journal when EventLogPath is set.
type HistoryConfig struct {
	DatabaseURL  string
	EventLogPath string
}

func HistoryFromEnv() HistoryConfig {
	return HistoryConfig{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		EventLogPath: os.Getenv("EVENT_LOG_PATH"),
	}
}

func (c HistoryConfig) Enabled() bool {
	return c.DatabaseURL != ""
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig is shared by the aimbot and viewer binaries.
type ClientConfig struct {
	BaseURL      string
	WSURL        string
	ClientID     string
	ClientSecret string
	Name         string
	Codec        string
	MaxRounds    int
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		BaseURL: "http://localhost:3000",
		WSURL:   "ws://localhost:3000/ws",
		Codec:   "json",
	}
}

func ClientFromEnv() ClientConfig {
	cfg := DefaultClient()

	if u := os.Getenv("BASE_URL"); u != "" {
		cfg.BaseURL = u
	}
	if u := os.Getenv("WS_URL"); u != "" {
		cfg.WSURL = u
	}
	cfg.ClientID = os.Getenv("CLIENT_ID")
	cfg.ClientSecret = os.Getenv("CLIENT_SECRET")
	cfg.Name = os.Getenv("PLAYER_NAME")
	if c := os.Getenv("WS_CODEC"); c != "" {
		cfg.Codec = c
	}
	if n := getEnvInt("MAX_ROUNDS", 0); n > 0 {
		cfg.MaxRounds = n
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete server configuration.
type AppConfig struct {
	Server      ServerConfig
	Game        GameConfig
	Limits      LimitsConfig
	TargetQuery TargetQueryConfig
	Debug       DebugConfig
	History     HistoryConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server:      ServerFromEnv(),
		Game:        GameFromEnv(),
		Limits:      LimitsFromEnv(),
		TargetQuery: TargetQueryFromEnv(),
		Debug:       DebugFromEnv(),
		History:     HistoryFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
