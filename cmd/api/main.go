package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/catalog"
	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	"github.com/ariefcatur/storefront-bridge/internal/config"
	"github.com/ariefcatur/storefront-bridge/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/postgres"
	"github.com/ariefcatur/storefront-bridge/internal/reconcile"
	"github.com/ariefcatur/storefront-bridge/internal/redisx"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Require("STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "SHOPIFY_STORE_DOMAIN", "SHOPIFY_ADMIN_TOKEN"); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger().With("component", "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	checkoutProd := kafkax.NewProducer(cfg.KafkaBrokers, reconcile.TopicCheckoutCompleted, 1024, logger)
	checkoutProd.Start()
	catalogProd := kafkax.NewProducer(cfg.KafkaBrokers, catalog.TopicProductMirrored, 1024, logger)
	catalogProd.Start()

	// Providers
	stripeClient := payments.New(cfg.Stripe.SecretKey, nil)
	shopClient := shop.New(cfg.Shopify.StoreDomain, cfg.Shopify.AdminToken, cfg.Shopify.APIVersion)
	ledger := &reconcile.PGLedger{DB: db}

	syncer := &catalog.Syncer{
		Source:       shopClient,
		Target:       stripeClient,
		Events:       catalogProd,
		Currency:     cfg.Checkout.Currency,
		PageSize:     cfg.Catalog.PageSize,
		PaymentLinks: cfg.Catalog.PaymentLinks,
		SuccessURL:   cfg.Checkout.SuccessURL,
		CancelURL:    cfg.Checkout.CancelURL,
		ServiceName:  cfg.ServiceName,
		Logger:       logger,
	}
	runner := &catalog.Runner{Syncer: syncer, Logger: logger}

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{
		Initiator: &checkout.Initiator{
			Provider: stripeClient,
			Options: checkout.Options{
				Currency:          cfg.Checkout.Currency,
				SuccessURL:        cfg.Checkout.SuccessURL,
				CancelURL:         cfg.Checkout.CancelURL,
				CollectBilling:    cfg.Checkout.CollectBilling,
				ShippingCountries: cfg.Checkout.ShippingCountries,
				Source:            cfg.ServiceName,
			},
			Logger: logger,
		},
		Response: cfg.Checkout.Response,
		Logger:   logger,
	}).Register(router)
	(&httpx.WebhookHandler{
		Verifier:    &payments.Verifier{Secret: cfg.Stripe.WebhookSecret, Tolerance: cfg.Stripe.WebhookTolerance},
		Ledger:      ledger,
		Producer:    checkoutProd,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
		Logger:      logger,
	}).Register(router)
	(&httpx.CatalogHandler{
		Syncer:        syncer,
		Runner:        runner,
		WebhookSecret: cfg.Shopify.WebhookSecret,
		Logger:        logger,
	}).Register(router)
	(&httpx.ReconciliationHandler{Ledger: ledger, Redis: rdb, Logger: logger}).Register(router)
	if cfg.Shopify.WebhookSecret == "" {
		logger.Info("SHOPIFY_WEBHOOK_SECRET not set, /catalog-webhook disabled")
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: otelhttp.NewHandler(router, cfg.ServiceName)}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	runner.Wait()
	checkoutProd.Close() // flush & close writer
	catalogProd.Close()
}
