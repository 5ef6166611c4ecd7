package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/config"
	"github.com/athwifi/voucher-api/internal/domain/admin"
	"github.com/athwifi/voucher-api/internal/pkg/database"
	"github.com/athwifi/voucher-api/internal/pkg/jwt"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/password"
)

func main() {
	email := flag.String("email", "", "admin e-mail")
	name := flag.String("name", "", "display name")
	role := flag.String("role", string(admin.RoleOperator), "super_admin or operator")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: admin-create -email ops@example.com [-name Ops] [-role super_admin]")
		os.Exit(2)
	}

	// read from the environment first so the tool works in CI
	pwd := os.Getenv("ADMIN_PASSWORD")
	if pwd == "" {
		fmt.Printf("Password (min %d chars): ", password.MinLength)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatal().Err(err).Msg("Failed to read password")
		}
		pwd = strings.TrimRight(line, "\r\n")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db.DB); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	svc := admin.NewService(admin.NewRepository(db), jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL))
	a, err := svc.Create(ctx, *email, pwd, *name, admin.Role(*role))
	switch {
	case errors.Is(err, admin.ErrEmailTaken):
		log.Fatal().Str("email", *email).Msg("An admin with this e-mail already exists")
	case errors.Is(err, password.ErrTooShort):
		log.Fatal().Int("min", password.MinLength).Msg("Password is too short")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to create admin")
	}

	fmt.Printf("created %s (%s) id=%s\n", a.Email, a.Role, a.ID)
}
