package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/testero/entitlement/broker"
	"github.com/testero/entitlement/config"
	"github.com/testero/entitlement/db"
	"github.com/testero/entitlement/external"
	"github.com/testero/entitlement/subscription"
	"github.com/testero/entitlement/task"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var err error

	once := flag.Bool("once", false, "run a single reconciliation pass and exit")
	interval := flag.Duration("interval", task.DefaultInterval, "time between reconciliation passes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load configurations: %v\n", err)
	}

	// Determine running environment and initialize structural logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	if len(cfg.SentryDSN) > 0 {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Debug:       !cfg.Production(),
		}); err != nil {
			logger.Fatal("Cannot initialize sentry",
				zap.Error(err),
			)
		}
		defer sentry.Flush(time.Second * 2)

		core, err := zapsentry.NewCore(zapsentry.Configuration{
			Level: zapcore.ErrorLevel,
			Tags: map[string]string{
				"component": "task",
			},
		}, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
		if err != nil {
			logger.Fatal("Cannot attach sentry to logger",
				zap.Error(err),
			)
		}
		logger = zapsentry.AttachCoreToLogger(core, logger)
	}

	defer logger.Sync()

	stripeClient := external.NewStripeClient(cfg.StripeKey, logger)

	db, err := db.New(db.Options{
		URI:    cfg.PostgresURI,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	bus, err := broker.New(cfg.BrokerURI)
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer bus.Close()

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	subscriptionTask, err := task.NewSubscriptionTask(task.SubscriptionOptions{
		Subscriptions:       subscriptionManager,
		StripeSubscriptions: stripeClient.Subscriptions,
		Producer:            bus,
		Logger:              logger,
		Interval:            *interval,
	})
	if err != nil {
		logger.Fatal("Cannot get subscription task",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		synced, err := subscriptionTask.Reconcile(ctx)
		if err != nil {
			logger.Fatal("Subscription reconciliation failed",
				zap.Error(err),
			)
		}
		logger.Info("Subscription reconciliation finished",
			zap.Int("Synced", synced),
		)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	subscriptionTask.HandleStripe(ctx)
	logger.Info("Subscription task started",
		zap.Duration("Interval", subscriptionTask.Interval),
	)

	<-c
	cancel()
}
