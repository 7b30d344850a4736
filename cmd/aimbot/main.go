package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fax-hunt/internal/client"
	"fax-hunt/internal/config"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	cfg := config.ClientFromEnv()
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		log.Fatal("❌ CLIENT_ID and CLIENT_SECRET must be set (see cmd/secret)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg := client.DefaultConfig()
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.ClientID = cfg.ClientID
	clientCfg.Secret = cfg.ClientSecret
	clientCfg.Name = cfg.Name
	c := client.New(clientCfg)

	view, err := c.Join(ctx)
	if err != nil {
		log.Fatalf("❌ Join failed: %v", err)
	}
	log.Printf("✅ Joined as %s (%s)", view.Username, view.Color)

	aimCfg := client.DefaultAimerConfig()
	aimCfg.MaxRounds = cfg.MaxRounds
	res, err := client.NewAimer(c, aimCfg).Run(ctx)
	if err != nil {
		log.Printf("🛑 Stopped after %d rounds, %d shots: %v", res.Rounds, res.Shots, err)
		os.Exit(1)
	}
	log.Printf("🏁 %s after %d rounds, %d shots", res.Outcome, res.Rounds, res.Shots)
}
