package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/config"
	"github.com/athwifi/voucher-api/internal/domain/provisioning"
	"github.com/athwifi/voucher-api/internal/pkg/database"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/routeros"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.RouterAddress == "" {
		log.Warn().Msg("ROUTER_ADDRESS not set, jobs will fail until it is")
	}

	log.Info().Msg("Starting provision-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// polling still runs without redis, only wake-ups are lost
	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, falling back to polling only")
		rdb = nil
	} else {
		defer database.CloseRedis(rdb)
	}

	router := routeros.NewClient(routeros.Config{
		Address:  cfg.RouterAddress,
		Username: cfg.RouterUsername,
		Password: cfg.RouterPassword,
		Timeout:  cfg.RouterTimeout(),
	})
	defer router.Close()

	svc := provisioning.NewService(provisioning.NewRepository(db), router, nil, cfg.ProvisionMaxAttempts)
	worker := provisioning.NewWorker(svc, rdb, cfg.ProvisionPollInterval)
	worker.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info().Msg("Shutdown signal received")
	worker.Stop()
	log.Info().Msg("provision-worker stopped")
}
