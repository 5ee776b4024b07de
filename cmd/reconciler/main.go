package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-bridge/internal/config"
	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/postgres"
	"github.com/ariefcatur/storefront-bridge/internal/reconcile"
	"github.com/ariefcatur/storefront-bridge/internal/redisx"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Require("STRIPE_SECRET_KEY", "SHOPIFY_STORE_DOMAIN", "SHOPIFY_ADMIN_TOKEN"); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger().With("component", "reconciler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: reconciled & dead letters (two topics)
	pOK := kafkax.NewProducer(cfg.KafkaBrokers, reconcile.TopicOrderReconciled, 1024, logger)
	pOK.Start()
	pDead := kafkax.NewProducer(cfg.KafkaBrokers, reconcile.TopicReconciliationFailed, 256, logger)
	pDead.Start()

	rc := &reconcile.Reconciler{
		Ledger:      &reconcile.PGLedger{DB: db},
		Payments:    payments.New(cfg.Stripe.SecretKey, nil),
		Shop:        shop.New(cfg.Shopify.StoreDomain, cfg.Shopify.AdminToken, cfg.Shopify.APIVersion),
		Redis:       rdb,
		Reconciled:  pOK,
		Alerts:      pDead,
		ServiceName: cfg.ServiceName + "-reconciler",
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Lease:       cfg.Reconcile.Lease,
		Logger:      logger,
	}
	sweeper := &reconcile.Sweeper{Reconciler: rc, Interval: cfg.Reconcile.SweepInterval, Logger: logger}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Reconcile.Group, reconcile.TopicCheckoutCompleted, cfg.Reconcile.Workers, logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		logger.Info("reconciler consumer started",
			"group", cfg.Reconcile.Group, "topic", reconcile.TopicCheckoutCompleted, "workers", cfg.Reconcile.Workers)
		if err := cons.Start(ctx, rc.HandleCheckoutCompleted); err != nil {
			logger.Error("consumer exit", "err", err)
			cancel()
		}
	}()
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down reconciler...")
	cancel()
	<-consumerDone
	<-sweeperDone
	pOK.Close()
	pDead.Close()
}
