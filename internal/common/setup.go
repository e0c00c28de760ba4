package common

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"usdt-recharge-go/internal/api"
	"usdt-recharge-go/internal/chain"
	"usdt-recharge-go/internal/database"
	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/listener"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/notify"
	"usdt-recharge-go/internal/payment"
	"usdt-recharge-go/internal/quota"
	"usdt-recharge-go/internal/sweep"
	"usdt-recharge-go/internal/wallet"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService  *database.Service
	HdWallet   *hdwallet.Wallet // nil without HD_MNEMONIC
	Wallets    *wallet.Manager
	Payments   *payment.Manager
	Quota      *quota.Manager
	Chain      *chain.RotatingClient
	Notifier   notify.Notifier
	Sweeper    *sweep.Sweeper
	Listener   *listener.ChainListener
	ApiService *api.LedgerService
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires every component. A missing HD seed, cold wallet
// or bot token degrades the matching feature instead of failing.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Services{DbService: dbService}

	var deriver wallet.Deriver
	var signer sweep.Signer
	if cfg.Wallet.Enabled() {
		hd, err := hdwallet.New(cfg.Wallet.Mnemonic, cfg.Wallet.Passphrase)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.HdWallet = hd
		deriver = hd
		signer = hd
		zap.L().Info("HD wallet loaded", zap.String("path", hdwallet.Path(0)))
	} else {
		zap.L().Warn("HD_MNEMONIC not set, USDT recharge is disabled")
	}

	s.Wallets = wallet.NewManager(dbService, deriver)
	if err := s.Wallets.LoadCache(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.Payments = payment.NewManager(dbService, cfg.Orders)

	s.Quota, err = NewQuotaManager(dbService, s.Payments, cfg.Quota)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Chain, err = chain.NewRotatingClient(ctx, cfg.Chain)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Notifier = notify.LogNotifier{}
	if cfg.Notify.TelegramBotToken != "" {
		bot, err := notify.NewTelegramNotifier(cfg.Notify)
		if err != nil {
			zap.L().Warn("Bot notifier unavailable, logging notifications instead", zap.Error(err))
		} else {
			s.Notifier = bot
		}
	}

	if cfg.Sweep.ColdWalletAddress == "" {
		zap.L().Warn("BSC_WALLET_ADDRESS not set, deposits stay on hot addresses")
	}
	s.Sweeper = sweep.NewSweeper(cfg.Sweep, cfg.Chain, s.Chain, signer, dbService, dbService)

	s.Listener = listener.NewChainListener(listener.ChainListenerConfig{
		Client:    s.Chain,
		Wallets:   s.Wallets,
		Payments:  s.Payments,
		Notifier:  s.Notifier,
		Sweeper:   s.Sweeper,
		Chain:     cfg.Chain,
		Available: cfg.Wallet.Enabled(),
	})

	s.ApiService = api.NewLedgerService(dbService, s.Wallets, s.Payments, s.Quota)

	return s, nil
}

// InitializeDatabaseOnly initializes just the database service without chain access
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

// NewQuotaManager builds the quota manager from the features file, or from
// the built-in table with env overrides when no file is set.
func NewQuotaManager(usage quota.UsageStore, ledger quota.Ledger, cfg models.QuotaConfig) (*quota.Manager, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", cfg.Timezone, err)
	}

	features, err := LoadFeatures(cfg)
	if err != nil {
		return nil, err
	}
	return quota.NewManager(usage, ledger, features, loc), nil
}

func LoadFeatures(cfg models.QuotaConfig) ([]quota.Feature, error) {
	if cfg.FeaturesFile == "" {
		features := quota.DefaultFeatures()
		for i := range features {
			if price, ok := cfg.PriceOverrides[features[i].Name]; ok {
				features[i].Price = price
			}
			if free, ok := cfg.FreeDailyOverrides[features[i].Name]; ok && free >= 0 {
				features[i].FreeDaily = free
			}
		}
		return features, nil
	}

	configs, err := LoadFeatureConfig(cfg.FeaturesFile)
	if err != nil {
		return nil, err
	}

	features := make([]quota.Feature, 0, len(configs))
	for _, c := range configs {
		features = append(features, quota.Feature{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			FreeDaily:   c.FreeDaily,
			Price:       decimal.RequireFromString(c.Price),
		})
	}
	zap.L().Info("Loaded feature prices", zap.String("file", cfg.FeaturesFile), zap.Int("count", len(features)))
	return features, nil
}

func (cs *Services) Close() {
	if cs.Chain != nil {
		cs.Chain.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
