package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fax-hunt/internal/api"
	"fax-hunt/internal/config"
	"fax-hunt/internal/game"
	"fax-hunt/internal/history"
	"fax-hunt/internal/ratelimit"
	"fax-hunt/internal/render"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎯 ================================")
	log.Println("🎯  FAX HUNT - GO SERVER")
	log.Println("🎯 ================================")

	appConfig := config.Load()
	serverCfg := appConfig.Server
	gameCfg := appConfig.Game

	if serverCfg.Secret == config.DefaultSecret {
		log.Println("⚠️ WARNING: SECRET not set, using the built-in default")
	}
	log.Printf("🎮 Config: %d players, tick %s, speed %.0f-%.0f, radius %.0f, reset after %s",
		gameCfg.MaxPlayers, gameCfg.Tick, gameCfg.MinSpeed, gameCfg.MaxSpeed, gameCfg.HitRadius, gameCfg.ResetDelay)

	// Registered first so every other deferred cleanup runs before exiting.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(appConfig.Limits.Rules())
	session := game.NewSession(gameCfg.Session(), limiter)
	session.SetHooks(api.MetricsHooks())

	renderer := render.NewRenderer(render.Config{
		Width:    int(session.Config().Field.MaxX),
		Height:   int(session.Config().Field.MaxY),
		FontPath: serverCfg.FontPath,
	}, session)
	session.AddPublisher(renderer)

	leaderboard := game.NewLeaderboard()
	session.AddPublisher(leaderboard)

	routerCfg := api.RouterConfig{
		Session:     session,
		Secret:      serverCfg.Secret,
		Limiter:     limiter,
		CORSOrigins: serverCfg.CORSOrigins,
		TargetDelay: appConfig.TargetQuery.Delay,
		TargetNoise: appConfig.TargetQuery.Noise,
		Frames:      renderer,
		Leaderboard: leaderboard,
	}

	// Start event log
	if path := appConfig.History.EventLogPath; path != "" {
		eventLog := game.NewEventLog()
		if err := eventLog.Start(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			defer eventLog.Stop()
			session.AddPublisher(eventLog)
			routerCfg.EventLog = eventLog
			log.Printf("📝 Event log: %s", path)
		}
	}

	// Optional round history
	if appConfig.History.Enabled() {
		database, err := history.Connect(appConfig.History.DatabaseURL)
		if err != nil {
			log.Printf("⚠️ History disabled: %v", err)
		} else if err := database.Migrate(); err != nil {
			log.Printf("⚠️ History disabled, migrations failed: %v", err)
			database.Close()
		} else {
			defer database.Close()
			recorder := history.NewRecorder(database)
			session.AddPublisher(recorder)
			go recorder.Run(ctx)
			routerCfg.Rounds = database
			log.Println("✅ Round history enabled")
		}
	} else {
		log.Println("💡 DATABASE_URL not set, running without round history")
	}

	hubCfg := api.DefaultHubConfig()
	hubCfg.AllowClientReset = serverCfg.AllowClientReset
	hubCfg.MaxConnectionsTotal = serverCfg.MaxConnections
	hubCfg.MaxConnectionsPerIP = serverCfg.MaxConnectionsPerIP

	server := api.NewServer(routerCfg, hubCfg)
	session.AddPublisher(server.Hub())

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = appConfig.Debug.Enabled
	debugCfg.ListenAddr = appConfig.Debug.Addr
	api.StartDebugServer(ctx, debugCfg)

	go limiter.Run(ctx, appConfig.Limits.SweepInterval)

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- session.Run(ctx)
	}()
	log.Println("✅ Game session started")

	log.Printf("🌐 API server on http://localhost%s", serverCfg.Addr())
	log.Printf("📡 Realtime feed on ws://localhost%s/ws", serverCfg.Addr())

	if err := server.Start(ctx, serverCfg.Addr()); err != nil {
		log.Printf("❌ Server error: %v", err)
		stop()
		<-sessionDone
		exitCode = 1
		return
	}

	log.Println("🛑 Shutting down...")
	<-sessionDone
	log.Println("👋 Goodbye!")
}
