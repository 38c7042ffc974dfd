package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// loadDotEnv подгружает переменные из файла .env, если он есть.
// Уже выставленные переменные окружения не перезаписываются.
func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := loadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env file")
	}

	cfg, err := app.LoadConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := app.SetupLogger(cfg.Log); err != nil {
		log.WithError(err).Fatal("invalid log configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields(version.Get().Fields())).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPC.Addr,
		"http_addr":      cfg.HTTP.Addr,
		"metrics_addr":   cfg.Metrics.Addr,
		"storage_driver": cfg.Storage.Driver,
		"kafka_enabled":  cfg.KafkaEnabled(),
	}).Info("starting fulfillment service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("fulfillment service stopped with error")
	}

	log.Info("fulfillment service stopped")
}
