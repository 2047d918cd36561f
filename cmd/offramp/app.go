package main

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/config"
	"github.com/marwen-abid/offramp-go/core/ledger"
	"github.com/marwen-abid/offramp-go/core/logging"
	"github.com/marwen-abid/offramp-go/events"
	"github.com/marwen-abid/offramp-go/sdk"
	"github.com/marwen-abid/offramp-go/store/memory"
	"github.com/marwen-abid/offramp-go/store/redisstore"
	"github.com/marwen-abid/offramp-go/wallet"
	"github.com/marwen-abid/offramp-go/withdraw"
)

// app is the wired service.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	ledger  *ledger.Horizon
	store   offramp.WithdrawalStore
	orch    *withdraw.Orchestrator
	creator *wallet.Creator
	events  *events.Publisher
	redis   *redis.Client
}

// newApp loads the configuration and wires every component. Missing secrets leave the
// operations that need them failing with CONFIG_INVALID.
func newApp() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	a := &app{cfg: cfg, logger: logger}
	a.ledger = ledger.NewHorizon(cfg.HorizonURL, ledger.WithLogger(logger))

	var pub message.Publisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.store = redisstore.NewWithdrawalStore(a.redis)
		if pub, err = events.NewRedisStream(a.redis); err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
	} else {
		a.store = memory.NewWithdrawalStore()
		pub = events.NewInProcess()
	}

	opts := []withdraw.Option{withdraw.WithStore(a.store), withdraw.WithLogger(logger)}
	if s, err := cfg.AuthSigner(); err == nil {
		opts = append(opts, withdraw.WithAuthSigner(s))
	} else {
		logger.WithError(err).Warn("no auth signer configured")
	}
	if s, err := cfg.FundsSigner(); err == nil {
		opts = append(opts, withdraw.WithFundsSigner(s))
	} else {
		logger.WithError(err).Warn("no funds signer configured")
	}

	anchor := sdk.NewClient(cfg.NetworkPassphrase, sdk.WithLogger(logger))
	a.orch, err = withdraw.New(cfg.Withdraw(), anchor, a.ledger, opts...)
	if err != nil {
		return nil, err
	}

	a.events = events.NewPublisher(pub, cfg.EventsTopic, logger)
	a.events.Forward(a.orch.Hooks())

	if funder, err := cfg.FunderSigner(); err == nil {
		a.creator, err = wallet.NewCreator(a.ledger, funder, wallet.Config{
			NetworkPassphrase: cfg.NetworkPassphrase,
			Asset:             cfg.Asset(),
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// close stops background runs and releases connections.
func (a *app) close(ctx context.Context) {
	if err := a.orch.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("withdrawal tasks still running at shutdown")
	}
	if err := a.events.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close event publisher")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// fundsAccount is the configured funds identity, if any.
func (a *app) fundsAccount() string {
	s, err := a.cfg.FundsSigner()
	if err != nil {
		return ""
	}
	return s.PublicKey()
}
