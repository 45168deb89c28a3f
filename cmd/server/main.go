// Package main provides the API server entry point for the referral dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/referral-dashboard/internal/api"
	"github.com/referral-dashboard/internal/chain"
	"github.com/referral-dashboard/internal/circuitbreaker"
	"github.com/referral-dashboard/internal/config"
	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/genealogy"
	"github.com/referral-dashboard/internal/income"
	"github.com/referral-dashboard/internal/ledger"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/ratelimit"
	"github.com/referral-dashboard/internal/retry"
	"github.com/referral-dashboard/internal/session"
	"github.com/referral-dashboard/internal/storage"
	"github.com/referral-dashboard/internal/wallet"
)

func main() {
	fmt.Println("Referral Dashboard API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Redis when configured; the session account and the rate
	// limit budget fall back to process memory otherwise
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient, err = storage.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.WithField("addr", cfg.Redis.RedisAddr()).Info("Redis connection established")
	}

	var store session.AccountStore = storage.NewMemoryAccountStore()
	if redisClient != nil {
		store = storage.NewRedisAccountStore(redisClient, cfg.Session.AccountKey)
	}

	// Contract gateway
	validator := chain.NewValidator(cfg.Chain.AcceptedChainIDs...)
	gateway := contract.NewGateway(contract.Config{
		Address:               cfg.Chain.ContractAddress,
		RegistrationFeeWei:    cfg.Chain.RegistrationFeeWei,
		GasPriceBufferPercent: cfg.Gateway.GasPriceBufferPercent,
		ReadRPS:               cfg.Gateway.ReadRPS,
		ReadBurst:             cfg.Gateway.ReadBurst,
		ReceiptPollInterval:   cfg.Gateway.ReceiptPollInterval,
		ConfirmationTimeout:   cfg.Gateway.ConfirmationTimeout,
		Breaker: &circuitbreaker.Config{
			MaxFailures:      cfg.Gateway.BreakerMaxFailures,
			Timeout:          cfg.Gateway.BreakerTimeout,
			HalfOpenMaxCalls: 1,
		},
	}, validator)
	logger.WithFields(map[string]interface{}{
		"contract":       cfg.Chain.ContractAddress.Hex(),
		"acceptedChains": validator.Accepted(),
	}).Info("Contract gateway initialized")

	aggregator := ledger.NewAggregator(
		gateway,
		genealogy.NewResolver(gateway, cfg.Gateway.MaxConcurrentLookups),
		income.NewCalculator(),
	)

	// Wallet discovery dials the configured endpoints in the background;
	// the session waits for the announcement with its own deadline
	discovery := wallet.NewDiscovery()
	go func() {
		dialCfg := retry.DefaultRetryConfig()
		dialCfg.MaxAttempts = cfg.Wallet.DialAttempts
		dialCfg.InitialDelay = cfg.Wallet.DialBackoff
		if err := wallet.DialAndAnnounce(ctx, discovery, wallet.DialRPC, cfg.Wallet.Endpoints, dialCfg); err != nil {
			logger.WithError(err).Warn("No wallet provider available")
		}
	}()

	board := session.NewNoticeBoard(cfg.Session.AutoSwitchNetwork, cfg.Session.MaxNotices)
	manager := session.NewManager(session.Config{
		DiscoveryTimeout: cfg.Wallet.DiscoveryTimeout,
		SwitchTargetID:   cfg.Chain.SwitchTargetID,
	}, gateway, aggregator, discovery, store, board)
	defer manager.Close()

	status := manager.Restore(ctx)
	logger.WithField("status", status).Info("Session restored")

	// Rate limiting
	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	if redisClient != nil {
		budget, err := ratelimit.NewRedisBudget(&ratelimit.RedisBudgetConfig{
			Redis:  redisClient,
			Budget: cfg.RateLimit.Burst,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create rate limit budget")
		}
		limiter = budget
	}

	// Initialize API server
	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Gateway.ConfirmationTimeout + 15*time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}, manager, board, gateway.Breakers(), limiter, ratelimit.NewCostRegistry(nil))

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}

	logger.Info("Server stopped")
}
