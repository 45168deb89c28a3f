// Package main provides a one-shot CLI that connects to a wallet, prints the
// dashboard snapshot as JSON and optionally registers under a referrer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/referral-dashboard/internal/chain"
	"github.com/referral-dashboard/internal/config"
	"github.com/referral-dashboard/internal/contract"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/genealogy"
	"github.com/referral-dashboard/internal/income"
	"github.com/referral-dashboard/internal/ledger"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/referral"
	"github.com/referral-dashboard/internal/retry"
	"github.com/referral-dashboard/internal/session"
	"github.com/referral-dashboard/internal/storage"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

type output struct {
	Session      types.Session          `json:"session"`
	Snapshot     *types.AggregateResult `json:"snapshot,omitempty"`
	Registration *types.Registration    `json:"registration,omitempty"`
	ReferralLink string                 `json:"referralLink,omitempty"`
}

func main() {
	var (
		endpoint = flag.String("endpoint", "", "Wallet endpoint (overrides WALLET_ENDPOINTS)")
		register = flag.String("register", "", "Register under this referral code or link before reading the dashboard")
		linkBase = flag.String("link-base", "", "Base URL used to print the account's own referral link")
		switchTo = flag.Bool("switch", false, "Ask the wallet to switch networks when connected to an unsupported chain")
		timeout  = flag.Duration("timeout", 3*time.Minute, "Overall deadline")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *endpoint != "" {
		cfg.Wallet.Endpoints = []string{*endpoint}
	}

	// Logs go to stderr so stdout carries only the JSON result
	logging.SetGlobalLogger(logging.NewLoggerWithOutput(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
		os.Stderr,
	))
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gateway := contract.NewGateway(contract.Config{
		Address:               cfg.Chain.ContractAddress,
		RegistrationFeeWei:    cfg.Chain.RegistrationFeeWei,
		GasPriceBufferPercent: cfg.Gateway.GasPriceBufferPercent,
		ReadRPS:               cfg.Gateway.ReadRPS,
		ReadBurst:             cfg.Gateway.ReadBurst,
		ReceiptPollInterval:   cfg.Gateway.ReceiptPollInterval,
		ConfirmationTimeout:   cfg.Gateway.ConfirmationTimeout,
	}, chain.NewValidator(cfg.Chain.AcceptedChainIDs...))

	aggregator := ledger.NewAggregator(
		gateway,
		genealogy.NewResolver(gateway, cfg.Gateway.MaxConcurrentLookups),
		income.NewCalculator(),
	)

	discovery := wallet.NewDiscovery()
	dialCfg := retry.DefaultRetryConfig()
	dialCfg.MaxAttempts = cfg.Wallet.DialAttempts
	dialCfg.InitialDelay = cfg.Wallet.DialBackoff
	if err := wallet.DialAndAnnounce(ctx, discovery, wallet.DialRPC, cfg.Wallet.Endpoints, dialCfg); err != nil {
		logger.WithError(err).Fatal("No wallet provider available")
	}

	// The prompter never auto-switches; -switch drives it explicitly
	board := session.NewNoticeBoard(false, cfg.Session.MaxNotices)
	manager := session.NewManager(session.Config{
		DiscoveryTimeout: cfg.Wallet.DiscoveryTimeout,
		SwitchTargetID:   cfg.Chain.SwitchTargetID,
	}, gateway, aggregator, discovery, storage.NewMemoryAccountStore(), board)
	defer manager.Close()

	if err := manager.Connect(ctx, nil); err != nil {
		if !apperrors.IsWrongNetwork(err) || !*switchTo {
			logger.WithError(err).Fatal("Failed to connect wallet")
		}
		if err := manager.SwitchNetwork(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to switch network")
		}
	}

	out := output{}

	if *register != "" {
		code, ok, err := referral.ParseLink(*register)
		if err != nil || !ok {
			code = referral.Sanitize(*register)
		}
		registration, err := manager.Register(ctx, code)
		if err != nil {
			logger.WithError(err).Fatal("Registration failed")
		}
		out.Registration = registration
	}

	snapshot, err := manager.Refresh(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to fetch dashboard")
	}
	out.Snapshot = snapshot
	out.Session = manager.Session()

	if *linkBase != "" && snapshot.Profile.Available && snapshot.Profile.Value.Exists {
		link, err := referral.BuildLink(*linkBase, snapshot.Profile.Value.ID)
		if err != nil {
			logger.WithError(err).Warn("Failed to build referral link")
		} else {
			out.ReferralLink = link
		}
	}

	for _, notice := range board.Drain() {
		logger.WithField("kind", notice.Kind).Info(notice.Message)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
}
