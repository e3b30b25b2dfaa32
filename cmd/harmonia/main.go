package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"harmonia/internal/config"
	"harmonia/internal/database"
	"harmonia/internal/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Stripe and ngrok credentials come from the environment.
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment")
	}

	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(logger, cfg)

	logger.WithFields(logrus.Fields{
		"address": cfg.GetAddress(),
		"storage": cfg.Storage.Root,
		"billing": cfg.Billing.Enabled,
		"ngrok":   cfg.Ngrok.Enabled,
	}).Info("Starting Harmonia")

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	musicServer, err := server.NewMusicServer(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	if err := musicServer.ImportSongsBucket(); err != nil {
		logger.WithError(err).Warn("Initial songs bucket import failed")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := musicServer.Start(); err != nil {
			logger.WithError(err).Fatal("Server stopped unexpectedly")
		}
	}()

	<-stop
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	musicServer.Shutdown(ctx)
}

func configureLogging(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}
