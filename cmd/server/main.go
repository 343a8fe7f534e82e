package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	handlers "github.com/subcommerce/billing-engine/internal/adapter/handler/http"
	"github.com/subcommerce/billing-engine/internal/config"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"github.com/subcommerce/billing-engine/internal/infrastructure/gateway/vnpay"
	httpServer "github.com/subcommerce/billing-engine/internal/infrastructure/http"
	infraMessaging "github.com/subcommerce/billing-engine/internal/infrastructure/messaging"
	"github.com/subcommerce/billing-engine/internal/scheduler"
	"github.com/subcommerce/billing-engine/internal/usecase"
	"github.com/subcommerce/billing-engine/pkg/logger"
	"github.com/subcommerce/billing-engine/pkg/messaging"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewZapLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, zapLogger); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	repos := database.NewRepositories(db, zapLogger)

	// Initialize the gateway client
	gatewayClient, err := vnpay.NewClient(vnpay.Config{
		PayURL:        cfg.Gateway.PayURL,
		APIURL:        cfg.Gateway.APIURL,
		TmnCode:       cfg.Gateway.TmnCode,
		HashSecret:    cfg.Gateway.HashSecret,
		HashAlgo:      cfg.Gateway.HashAlgo,
		EncodeMode:    vnpay.EncodeMode(cfg.Gateway.EncodeMode),
		ReturnURL:     cfg.Gateway.ReturnURL,
		Locale:        cfg.Gateway.Locale,
		OrderType:     cfg.Gateway.OrderType,
		CurrencyCode:  cfg.Gateway.CurrencyCode,
		ExpireMinutes: cfg.Gateway.ExpireMinutes,
		Timeout:       cfg.Gateway.Timeout,
		TimeZone:      cfg.Gateway.TimeZone,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize gateway client", zap.Error(err))
	}

	// Initialize the event publisher
	redisClient, err := messaging.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	events := infraMessaging.NewEventPublisher(redisClient, zapLogger)

	// Initialize use cases
	paymentService := usecase.NewPaymentService(repos, gatewayClient, zapLogger)
	callbackService := usecase.NewCallbackService(repos, gatewayClient, events, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background schedulers
	reconciler := scheduler.NewReconciler(repos, gatewayClient, callbackService, scheduler.ReconcilerConfig{
		Interval:       cfg.Scheduler.Reconciler.Interval,
		StaleAfter:     cfg.Scheduler.Reconciler.StaleAfter,
		ExpireAfter:    cfg.Scheduler.Reconciler.ExpireAfter,
		QueryCooldown:  cfg.Scheduler.Reconciler.QueryCooldown,
		ResultCacheTTL: cfg.Scheduler.Reconciler.ResultCacheTTL,
		SuppressionTTL: cfg.Scheduler.Reconciler.SuppressionTTL,
		BatchLimit:     cfg.Scheduler.Reconciler.BatchLimit,
	}, zapLogger)
	go reconciler.Run(ctx)

	renewal := scheduler.NewRenewalEngine(repos, gatewayClient, events, scheduler.RenewalConfig{
		Interval:    cfg.Scheduler.Renewal.Interval,
		Retry1Delay: cfg.Scheduler.Renewal.Retry1Delay,
		Retry2Delay: cfg.Scheduler.Renewal.Retry2Delay,
		BatchLimit:  cfg.Scheduler.Renewal.BatchLimit,
	}, zapLogger)
	go renewal.Run(ctx)

	// Initialize and start the HTTP server
	plansHandler := handlers.NewPlansHandler(repos.Plan, zapLogger)
	httpSrv := httpServer.NewServer(cfg, zapLogger, paymentService, callbackService, plansHandler)

	go func() {
		if err := httpSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLogger.Info("Shutting down...")
	cancel()

	if err := httpSrv.Shutdown(context.Background()); err != nil {
		zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	zapLogger.Info("Server shut down successfully")
}
