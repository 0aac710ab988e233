package main

import (
	"log/slog"
	"os"

	"go-procurement-client/internal/app"
	"go-procurement-client/internal/logger"
)

func main() {
	logHandler := logger.NewPrettyHandler(os.Stdout, &slog.HandlerOptions{
		Level: logger.ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	slog.SetDefault(slog.New(logHandler))

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize client", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("client run failed", "error", err)
		os.Exit(1)
	}
}
