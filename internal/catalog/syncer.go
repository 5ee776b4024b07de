package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventProductMirrored = "ProductMirrored"
	TopicProductMirrored = "catalog.product.mirrored"
)

// ErrNoPrice marks products that have no variant to take a price from.
var ErrNoPrice = errors.New("product has no variants")

type ProductSource interface {
	EachProduct(ctx context.Context, limit int, fn func(shop.Product) error) error
}

type ProductMirror interface {
	UpsertProduct(ctx context.Context, p payments.ProductListing) (payments.MirrorResult, error)
	CreatePaymentLink(ctx context.Context, priceID, successURL, cancelURL string) (string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) bool
}

type ProductMirroredPayload struct {
	ProductID       int64                 `json:"product_id"`
	StripeProductID string                `json:"stripe_product_id"`
	StripePriceID   string                `json:"stripe_price_id"`
	Action          payments.MirrorAction `json:"action"`
	PaymentLink     string                `json:"payment_link,omitempty"`
}

type Report struct {
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (r Report) Total() int { return r.Created + r.Updated + r.Unchanged + r.Skipped + r.Failed }

type Syncer struct {
	Source ProductSource
	Target ProductMirror
	Events Publisher

	Currency     string
	PageSize     int
	PaymentLinks bool
	SuccessURL   string
	CancelURL    string
	ServiceName  string
	Logger       *slog.Logger
}

// StripeProductID is the stable Stripe id for a Shopify product.
func StripeProductID(shopifyID int64) string {
	return "shopify_" + strconv.FormatInt(shopifyID, 10)
}

// Listing turns a Shopify product into the Stripe listing it mirrors to.
// The first variant carries the price.
func (s *Syncer) Listing(p shop.Product) (payments.ProductListing, error) {
	if len(p.Variants) == 0 {
		return payments.ProductListing{}, ErrNoPrice
	}
	amount, err := checkout.MinorUnits(p.Variants[0].Price)
	if err != nil {
		return payments.ProductListing{}, fmt.Errorf("variant %d price: %w", p.Variants[0].ID, err)
	}
	return payments.ProductListing{
		ID:          StripeProductID(p.ID),
		Name:        p.Title,
		Description: p.BodyHTML,
		Images:      p.ImageURLs(),
		UnitAmount:  amount,
		Currency:    s.Currency,
		Metadata: map[string]string{
			"shopify_product_id": strconv.FormatInt(p.ID, 10),
			"shopify_variant_id": strconv.FormatInt(p.Variants[0].ID, 10),
		},
	}, nil
}

// Mirror upserts one product into Stripe.
func (s *Syncer) Mirror(ctx context.Context, p shop.Product) (payments.MirrorResult, error) {
	listing, err := s.Listing(p)
	if err != nil {
		return payments.MirrorResult{}, err
	}
	res, err := s.Target.UpsertProduct(ctx, listing)
	if err != nil {
		return res, fmt.Errorf("mirror product %d: %w", p.ID, err)
	}

	log := s.Logger.With(slog.Int64("shopify_product_id", p.ID), slog.String("stripe_product_id", res.ProductID))
	var link string
	if s.PaymentLinks && res.PriceID != "" && res.Action != payments.MirrorUnchanged {
		link, err = s.Target.CreatePaymentLink(ctx, res.PriceID, s.SuccessURL, s.CancelURL)
		if err != nil {
			log.Warn("payment link failed", slog.Any("err", err))
		} else {
			log.Info("checkout link", slog.String("url", link))
		}
	}

	if s.Events != nil && res.Action != payments.MirrorUnchanged {
		env := kafkax.NewEnvelope(EventProductMirrored, s.ServiceName, res.ProductID, ProductMirroredPayload{
			ProductID:       p.ID,
			StripeProductID: res.ProductID,
			StripePriceID:   res.PriceID,
			Action:          res.Action,
			PaymentLink:     link,
		})
		s.Events.Publish([]byte(res.ProductID), kafkax.MustMarshal(env), env.Headers()...)
	}
	log.Debug("product mirrored", slog.String("action", string(res.Action)))
	return res, nil
}

// Sync walks the whole Shopify catalog. A product that fails is counted and
// logged; only a failure to list products ends the run early.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report
	err := s.Source.EachProduct(ctx, s.PageSize, func(p shop.Product) error {
		res, err := s.Mirror(ctx, p)
		switch {
		case errors.Is(err, ErrNoPrice):
			rep.Skipped++
			s.Logger.Info("skip product without variants", slog.Int64("shopify_product_id", p.ID))
		case err != nil:
			rep.Failed++
			s.Logger.Error("mirror failed", slog.Int64("shopify_product_id", p.ID), slog.String("title", p.Title), slog.Any("err", err))
		case res.Action == payments.MirrorCreated:
			rep.Created++
		case res.Action == payments.MirrorUpdated:
			rep.Updated++
		default:
			rep.Unchanged++
		}
		return ctx.Err()
	})
	rep.Duration = time.Since(start)
	if err != nil {
		return rep, fmt.Errorf("list products: %w", err)
	}
	s.Logger.Info("catalog sync finished",
		slog.Int("created", rep.Created),
		slog.Int("updated", rep.Updated),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
		slog.Duration("took", rep.Duration),
	)
	return rep, nil
}
