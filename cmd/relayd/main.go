package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"stackrush/internal/httpapi"
	"stackrush/internal/relay"
)

func main() {
	_ = godotenv.Load()

	logger, err := buildLogger()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	addr := os.Getenv("RELAYD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx := context.Background()
	reg := relay.NewRegistry(ctx, logger)
	handler := httpapi.SetupRoutes(reg, logger)

	logger.Info("relayd listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("RELAYD_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
