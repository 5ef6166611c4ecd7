package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/config"
	"github.com/athwifi/voucher-api/internal/domain/admin"
	"github.com/athwifi/voucher-api/internal/domain/payment"
	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/provisioning"
	"github.com/athwifi/voucher-api/internal/domain/voucher"
	"github.com/athwifi/voucher-api/internal/middleware"
	"github.com/athwifi/voucher-api/internal/pkg/database"
	"github.com/athwifi/voucher-api/internal/pkg/email"
	"github.com/athwifi/voucher-api/internal/pkg/jwt"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/paystack"
	pkgresponse "github.com/athwifi/voucher-api/internal/pkg/response"
	"github.com/athwifi/voucher-api/internal/pkg/routeros"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting voucher API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.RunMigrations {
		if err := database.Migrate(context.Background(), db.DB); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	// ---------- Clients (one per process) ----------
	paystackClient := paystack.NewClient(paystack.Config{
		BaseURL:   cfg.PaystackBaseURL,
		SecretKey: cfg.PaystackSecretKey,
		PublicKey: cfg.PaystackPublicKey,
		Currency:  cfg.PaystackCurrency,
		Timeout:   cfg.PaystackTimeout(),
	})
	if !paystackClient.Configured() {
		log.Warn().Msg("PAYSTACK_SECRET_KEY not set, checkout is disabled")
	}

	routerClient := routeros.NewClient(routeros.Config{
		Address:  cfg.RouterAddress,
		Username: cfg.RouterUsername,
		Password: cfg.RouterPassword,
		Timeout:  cfg.RouterTimeout(),
	})
	defer routerClient.Close()

	mailer := email.NewService(email.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	})
	defer mailer.Close()

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	voucherRepo := voucher.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	provisioningRepo := provisioning.NewRepository(db)
	adminRepo := admin.NewRepository(db)

	// ---------- Services ----------
	waker := provisioning.NewRedisWaker(rdb)
	provisioningService := provisioning.NewService(provisioningRepo, routerClient, waker, cfg.ProvisionMaxAttempts)

	var voucherService *voucher.Service
	hub := voucher.NewHub(rdb, func(ctx context.Context) ([]voucher.TierStock, error) {
		return voucherService.Stock(ctx)
	})
	voucherService = voucher.NewService(voucherRepo, hub).WithWaker(waker)
	go hub.Run()
	defer hub.Close()

	paymentService := payment.NewService(paystackClient, voucherService, paymentRepo, mailer, payment.Config{
		BackendURL: cfg.BackendURL,
	})
	adminService := admin.NewService(adminRepo, jwtService)

	// ---------- Handlers ----------
	planHandler := plan.NewHandler(voucherService)
	paymentHandler := payment.NewHandler(paymentService, payment.HandlerConfig{
		FrontendURL:   cfg.FrontendURL,
		WebhookSecret: cfg.PaystackSecretKey,
	})
	voucherHandler := voucher.NewHandler(voucherService, hub, cfg.AllowedOrigins)
	provisioningHandler := provisioning.NewHandler(provisioningService)
	adminHandler := admin.NewHandler(adminService)

	authMiddleware := middleware.Auth(jwtService)
	superAdmin := middleware.RequireSuperAdmin()

	// ---------- Background jobs ----------
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	if cfg.PurgeInterval > 0 {
		go voucher.NewPurgeJob(voucherService).Start(jobsCtx, cfg.PurgeInterval)
	}

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(db, rdb))

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/plans", planHandler.Routes())
		r.Mount("/payments", paymentHandler.Routes())
		r.Mount("/admin/auth", adminHandler.Routes(authMiddleware))

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireRole(string(admin.RoleSuperAdmin), string(admin.RoleOperator)))
			r.Mount("/vouchers", voucherHandler.Routes(superAdmin))
			r.Mount("/payments", paymentHandler.AdminRoutes())
			r.Mount("/provisioning", provisioningHandler.Routes(superAdmin))
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// pinger is satisfied by *sqlx.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(db pinger, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		healthy := true
		if err := db.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
		if rdb == nil {
			checks["redis"] = "not configured"
		} else if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}

		if !healthy {
			pkgresponse.JSON(w, http.StatusServiceUnavailable, checks)
			return
		}
		pkgresponse.OK(w, checks)
	}
}

var _ pinger = (*sqlx.DB)(nil)
