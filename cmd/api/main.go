package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/testero/entitlement/auth"
	"github.com/testero/entitlement/billing"
	"github.com/testero/entitlement/broker"
	"github.com/testero/entitlement/config"
	"github.com/testero/entitlement/customer"
	"github.com/testero/entitlement/db"
	"github.com/testero/entitlement/external"
	"github.com/testero/entitlement/gate"
	"github.com/testero/entitlement/grace"
	"github.com/testero/entitlement/practice"
	"github.com/testero/entitlement/quota"
	"github.com/testero/entitlement/subscription"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var err error

	// Load configurations from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load configurations: %v\n", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("Invalid configurations: %v\n", err)
	}

	if cfg.Production() {
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if len(cfg.SentryDSN) > 0 {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: string(authEnvironment),
			Debug:       authEnvironment == auth.EnvDevelopment,
		}); err != nil {
			logger.Fatal("Cannot initialize sentry",
				zap.Error(err),
			)
		}
		defer sentry.Flush(time.Second * 2)

		// Attach sentry to zap so errors are captured automatically
		core, err := zapsentry.NewCore(zapsentry.Configuration{
			Level: zapcore.ErrorLevel,
			Tags: map[string]string{
				"component": "api",
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stripeClient := external.NewStripeClient(cfg.StripeKey, logger)

	// Initialize backend connections
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

	subscriptionChecker, err := subscription.NewChecker(subscription.CheckerOptions{
		Store:  subscriptionManager,
		Cache:  subscription.NewCache(subscription.CacheOptions{}),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionChecker",
			zap.Error(err),
		)
	}

	if err := broker.Listen(ctx, bus, logger, subscriptionChecker.Invalidate); err != nil {
		logger.Fatal("Cannot listen for subscription invalidations",
			zap.Error(err),
		)
	}

	procedure, closeProcedure := quotaProcedure(ctx, cfg, db, logger)
	defer closeProcedure()

	ledger, err := quota.NewLedger(quota.LedgerOptions{
		Procedure: procedure,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize QuotaLedger",
			zap.Error(err),
		)
	}

	graceSigner := grace.New(grace.Options{
		Secret: cfg.PaywallSigningSecret,
	})
	if len(cfg.PaywallSigningSecret) == 0 {
		logger.Warn("PAYWALL_SIGNING_SECRET is not set, checkout grace cookies cannot be minted")
	}

	auth, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: cfg.JWTSigningKey,
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	accessGate, err := gate.New(gate.Options{
		Grace:       graceSigner,
		Identity:    auth,
		Subscribers: subscriptionChecker,
		Quota:       ledger,
		Logger:      logger,
		Enforcement: gate.Enforcement(cfg.BillingEnforcement),
		DefaultExam: cfg.DefaultExam,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Gate",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(customer.ManagerOptions{
		DB:        db,
		Logger:    logger,
		Customers: stripeClient.Customers,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	billingRouter, err := billing.NewService(billing.Options{
		Logger:              logger,
		Identity:            auth,
		Customers:           customerManager,
		Subscriptions:       subscriptionManager,
		Cache:               subscriptionChecker,
		Broker:              bus,
		Grace:               graceSigner,
		CheckoutSessions:    stripeClient.CheckoutSessions,
		StripeSubscriptions: stripeClient.Subscriptions,
		WebhookSecret:       cfg.StripeWebhookSecret,
		PriceIDs:            cfg.StripePriceIDs,
		TrialDays:           cfg.StripeTrialDays,
		SiteURL:             cfg.SiteURL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	practiceManager, err := practice.NewManager(practice.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize PracticeManager",
			zap.Error(err),
		)
	}

	practiceRouter, err := practice.NewService(practice.Options{
		Logger:   logger,
		Gate:     accessGate,
		Identity: auth,
		Sessions: practiceManager,
		Exams:    []string{cfg.DefaultExam},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Practice Service Router",
			zap.Error(err),
		)
	}

	frontend, err := newFrontendProxy(cfg.FrontendURL)
	if err != nil {
		logger.Fatal("Cannot parse FRONTEND_URL",
			zap.Error(err),
		)
	}

	srv := &http.Server{
		Handler: newRouter(routerOptions{
			Gate:        accessGate,
			Billing:     billingRouter.Router(),
			Practice:    practiceRouter.Router(),
			CORSOrigins: cfg.CORSOrigins,
			Frontend:    frontend,
		}),
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server listening",
			zap.String("Addr", cfg.ListenAddr),
			zap.String("QuotaBackend", cfg.QuotaBackend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server stopped unexpectedly",
				zap.Error(err),
			)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down API server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cannot shutdown API server gracefully",
			zap.Error(err),
		)
	}
}

// quotaProcedure selects the quota backend. The returned func releases its connections.
func quotaProcedure(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (quota.Procedure, func()) {
	switch cfg.QuotaBackend {
	case config.QuotaRedis:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisURI},
			Password: cfg.RedisPW,
			DB:       0,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			logger.Fatal("Cannot connect to Redis",
				zap.Error(err),
			)
		}
		procedure, err := quota.NewRedisProcedure(quota.RedisOptions{
			Client: rdb,
		})
		if err != nil {
			logger.Fatal("Cannot initialize Redis quota procedure",
				zap.Error(err),
			)
		}
		return procedure, func() { rdb.Close() }

	case config.QuotaMemory:
		logger.Warn("Quota is kept in memory and is not shared between replicas")
		return quota.NewMemoryProcedure(time.Now), func() {}

	default:
		procedure, err := quota.NewPostgresProcedure(quota.PostgresOptions{
			DB:     db,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal("Cannot initialize Postgres quota procedure",
				zap.Error(err),
			)
		}
		if err := procedure.Install(ctx); err != nil {
			logger.Fatal("Cannot install quota stored procedure",
				zap.Error(err),
			)
		}
		return procedure, func() {}
	}
}
