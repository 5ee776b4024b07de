package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-bridge/internal/catalog"
	"github.com/ariefcatur/storefront-bridge/internal/config"
	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catalogsync",
		Short: "Mirror the Shopify catalog into Stripe",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		paymentLinks bool
		pageSize     int
		publish      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full catalog sync and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Require("STRIPE_SECRET_KEY", "SHOPIFY_STORE_DOMAIN", "SHOPIFY_ADMIN_TOKEN"); err != nil {
				return err
			}
			if cmd.Flags().Changed("payment-links") {
				cfg.Catalog.PaymentLinks = paymentLinks
			}
			if cmd.Flags().Changed("page-size") {
				cfg.Catalog.PageSize = pageSize
			}
			logger := cfg.Logger().With("component", "catalogsync")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			syncer := &catalog.Syncer{
				Source:       shop.New(cfg.Shopify.StoreDomain, cfg.Shopify.AdminToken, cfg.Shopify.APIVersion),
				Target:       payments.New(cfg.Stripe.SecretKey, nil),
				Currency:     cfg.Checkout.Currency,
				PageSize:     cfg.Catalog.PageSize,
				PaymentLinks: cfg.Catalog.PaymentLinks,
				SuccessURL:   cfg.Checkout.SuccessURL,
				CancelURL:    cfg.Checkout.CancelURL,
				ServiceName:  cfg.ServiceName + "-catalogsync",
				Logger:       logger,
			}
			if publish {
				prod := kafkax.NewProducer(cfg.KafkaBrokers, catalog.TopicProductMirrored, 1024, logger)
				prod.Start()
				defer prod.Close()
				syncer.Events = prod
			}

			rep, err := syncer.Sync(ctx)
			out, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("%d of %d products failed", rep.Failed, rep.Total())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&paymentLinks, "payment-links", false, "create a one-off checkout link per new or changed product")
	cmd.Flags().IntVar(&pageSize, "page-size", 250, "Shopify page size (max 250)")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish ProductMirrored events to Kafka")
	return cmd
}
