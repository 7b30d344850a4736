// Command viewer follows the realtime feed headlessly and logs the smoothed
// target position, shots and game results.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fax-hunt/internal/client"
	"fax-hunt/internal/config"
	"fax-hunt/internal/game"
	"fax-hunt/internal/protocol"
	"fax-hunt/internal/reconcile"
)

const frameInterval = time.Second / 10

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}
	cfg := config.ClientFromEnv()

	codec, err := protocol.ParseCodec(cfg.Codec)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := client.Dial(ctx, cfg.WSURL, codec)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer feed.Close()
	log.Printf("📡 Connected to %s (%s)", cfg.WSURL, codec)

	events := make(chan protocol.Event, 64)
	feedErr := make(chan error, 1)
	go func() {
		for {
			ev, err := feed.Next(ctx)
			if err != nil {
				feedErr <- err
				return
			}
			events <- ev
		}
	}()

	start := game.DefaultSessionConfig().Motion.Start
	view := reconcile.NewView(start, reconcile.DefaultSmoothing)
	frames := time.NewTicker(frameInterval)
	defer frames.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("👋 Goodbye!")
			return
		case err := <-feedErr:
			if ctx.Err() == nil {
				log.Printf("❌ Feed closed: %v", err)
				os.Exit(1)
			}
			return
		case ev := <-events:
			if err := view.Apply(ev, time.Now()); err != nil {
				log.Printf("⚠️ %v", err)
				continue
			}
			switch e := ev.(type) {
			case protocol.NewShot:
				log.Printf("🔫 %s fired at (%.0f, %.0f)", e.Username, e.X, e.Y)
			case protocol.GameOver:
				log.Printf("🏆 %s won!", e.Winner)
			case protocol.GameReset:
				log.Println("🔄 Game reset")
			case protocol.UserList:
				log.Printf("👥 %d players", len(e))
			}
		case now := <-frames.C:
			if !view.Active {
				continue
			}
			pos := view.Target.Frame(now)
			log.Printf("🎯 target (%.1f, %.1f), %d live shots", pos.X, pos.Y, len(view.Shots.Active(now)))
		}
	}
}
