package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/procscope/procscope/internal/config"
	"github.com/procscope/procscope/internal/engine"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("🔍 no .env file found, continuing with process environment")
	}

	cfg, err := config.LoadConfig(os.Getenv("PROCSCOPE_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := eng.Start(ctx); err != nil {
			slog.Error("server exited", "err", err)
		}
	}()

	slog.Info("🛰️  procscope started", "addr", cfg.Server.Host+":"+cfg.Server.Port)

	<-ctx.Done()
	slog.Info("shutting down")

	// Stop applies its own budget internally (cfg.Server.ShutdownTimeoutSec).
	if err := eng.Stop(context.Background()); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
