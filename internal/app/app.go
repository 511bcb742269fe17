package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/crypto"
	"crm-google-sync-go/internal/db"
	"crm-google-sync-go/internal/googleauth"
	"crm-google-sync-go/internal/handlers"
	"crm-google-sync-go/internal/metrics"
	"crm-google-sync-go/internal/processor"
	"crm-google-sync-go/internal/ratelimit"
	"crm-google-sync-go/internal/repository"
	"crm-google-sync-go/internal/scheduler"
	"crm-google-sync-go/internal/server"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting CRM Google Sync Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	cipher, err := crypto.NewTokenCipher(cfg.Google.TokenKey)
	if err != nil {
		return fmt.Errorf("failed to create token cipher: %w", err)
	}

	m := metrics.NewMetrics()

	credRepo := repository.NewCredentialRepository(dbConn)
	rawEventRepo := repository.NewRawEventRepository(dbConn)
	jobRepo := repository.NewJobRepository(dbConn)
	prefRepo := repository.NewPreferenceRepository(dbConn)

	tokenStore := googleauth.NewStore(credRepo, cipher)
	builder := googleauth.NewBuilder(tokenStore, cfg.Google.ClientID, cfg.Google.ClientSecret)
	clients := processor.NewGoogleClients(builder)

	limiter := ratelimit.NewLimiter(limiterConfig(cfg.RateLimit, m))
	defer limiter.Close()

	gmailProc := processor.NewGmailProcessor(clients, limiter, rawEventRepo, jobRepo, prefRepo, m, cfg.Sync)
	calendarProc := processor.NewCalendarProcessor(clients, limiter, rawEventRepo, jobRepo, prefRepo, m, cfg.Sync)

	sched := scheduler.NewScheduler(&cfg.Scheduler, jobRepo, gmailProc, calendarProc)

	h := handlers.NewHandlers(dbConn, jobRepo, prefRepo, clients, limiter, sched, m, cfg.Sync)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// limiterConfig maps the viper configuration onto limiter settings.
func limiterConfig(cfg config.RateLimitConfig, m *metrics.Metrics) ratelimit.Config {
	bucket := func(b config.BucketConfig) ratelimit.BucketConfig {
		return ratelimit.BucketConfig{Capacity: b.Capacity, RefillPerSecond: b.RefillPerSecond}
	}
	return ratelimit.Config{
		Buckets: map[ratelimit.Operation]ratelimit.BucketConfig{
			ratelimit.OpGmailRead:     bucket(cfg.GmailRead),
			ratelimit.OpGmailMetadata: bucket(cfg.GmailMetadata),
			ratelimit.OpGmailSend:     bucket(cfg.GmailSend),
			ratelimit.OpCalendarRead:  bucket(cfg.CalendarRead),
		},
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
		BackoffJitter:     cfg.BackoffJitter,
		RateLimitedFactor: cfg.RateLimitedFactor,
		PermissionFactor:  cfg.PermissionFactor,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerCooldown:   cfg.BreakerCooldown,
		ShortWait:         cfg.ShortWait,
		SweepInterval:     cfg.SweepInterval,
		StaleAfter:        cfg.StaleAfter,
		DenialCounter:     m.RateLimitDenials,
	}
}
