package payments

import (
	"context"
	"fmt"
	"slices"

	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	"github.com/stripe/stripe-go/v82"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Shipping struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

type SessionLineItem struct {
	Title      string `json:"title"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"`
}

// CompletedSession is the authoritative view of a paid checkout session.
type CompletedSession struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	CustomerName  string            `json:"customer_name,omitempty"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Items         []SessionLineItem `json:"items"`
	Shipping      *Shipping         `json:"shipping,omitempty"`
}

func (s CompletedSession) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) ||
		s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
}

// Client talks to Stripe with its own credentials; nothing is read from the
// package-level stripe.Key.
type Client struct {
	sc *stripe.Client
}

// New builds a client for key. backends may be nil to use Stripe's endpoints.
func New(key string, backends *stripe.Backends) *Client {
	if backends == nil {
		return &Client{sc: stripe.NewClient(key)}
	}
	return &Client{sc: stripe.NewClient(key, stripe.WithBackends(backends))}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req checkout.SessionRequest) (checkout.Session, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
	}
	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Name),
				},
				UnitAmount: stripe.Int64(it.UnitAmount),
			},
			Quantity: stripe.Int64(it.Quantity),
		})
	}
	if req.CollectBilling {
		params.BillingAddressCollection = stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired))
	}
	if len(req.ShippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionCreateShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.ShippingCountries),
		}
	}

	s, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return checkout.Session{}, providerError(err)
	}
	return checkout.Session{ID: s.ID, URL: s.URL, AmountTotal: s.AmountTotal}, nil
}

// FetchCompletedSession re-reads a session with its line items expanded. The
// webhook payload is never used as the source of line items.
func (c *Client) FetchCompletedSession(ctx context.Context, id string) (CompletedSession, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("line_items")
	s, err := c.sc.V1CheckoutSessions.Retrieve(ctx, id, params)
	if err != nil {
		return CompletedSession{}, providerError(err)
	}

	out := CompletedSession{
		ID:            s.ID,
		Email:         s.CustomerEmail,
		Currency:      string(s.Currency),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
	}
	if cd := s.CustomerDetails; cd != nil {
		if cd.Email != "" {
			out.Email = cd.Email
		}
		out.CustomerName = cd.Name
	}
	if ci := s.CollectedInformation; ci != nil && ci.ShippingDetails != nil {
		sh := &Shipping{Name: ci.ShippingDetails.Name}
		if a := ci.ShippingDetails.Address; a != nil {
			sh.Address = Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
		out.Shipping = sh
	}

	if s.LineItems == nil {
		return out, nil
	}
	for _, li := range s.LineItems.Data {
		out.Items = append(out.Items, lineItem(li))
	}
	if s.LineItems.HasMore {
		// The expansion only carries the first page.
		out.Items = out.Items[:0]
		lp := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(id)}
		lp.Limit = stripe.Int64(100)
		for li, err := range c.sc.V1CheckoutSessions.ListLineItems(ctx, lp) {
			if err != nil {
				return CompletedSession{}, providerError(err)
			}
			out.Items = append(out.Items, lineItem(li))
		}
	}
	return out, nil
}

func lineItem(li *stripe.LineItem) SessionLineItem {
	item := SessionLineItem{Title: li.Description, Quantity: li.Quantity}
	switch {
	case li.Price != nil:
		item.UnitAmount = li.Price.UnitAmount
	case li.Quantity > 0:
		item.UnitAmount = li.AmountSubtotal / li.Quantity
	}
	return item
}

// ProductListing is a catalog entry to mirror into Stripe under a caller
// chosen, stable product id.
type ProductListing struct {
	ID          string
	Name        string
	Description string
	Images      []string
	UnitAmount  int64
	Currency    string
	Metadata    map[string]string
}

type MirrorAction string

const (
	MirrorCreated   MirrorAction = "created"
	MirrorUpdated   MirrorAction = "updated"
	MirrorUnchanged MirrorAction = "unchanged"
)

type MirrorResult struct {
	ProductID string       `json:"product_id"`
	PriceID   string       `json:"price_id"`
	Action    MirrorAction `json:"action"`
}

// UpsertProduct creates the product and its price when the id is unknown to
// Stripe, otherwise brings name, description, images and default price in
// line with p. Re-running with the same listing is a no-op.
func (c *Client) UpsertProduct(ctx context.Context, p ProductListing) (MirrorResult, error) {
	rp := &stripe.ProductRetrieveParams{}
	rp.AddExpand("default_price")
	existing, err := c.sc.V1Products.Retrieve(ctx, p.ID, rp)
	if err != nil && !isMissing(err) {
		return MirrorResult{}, providerError(err)
	}

	if err != nil {
		cp := &stripe.ProductCreateParams{
			ID:       stripe.String(p.ID),
			Name:     stripe.String(p.Name),
			Metadata: p.Metadata,
		}
		if p.Description != "" {
			cp.Description = stripe.String(p.Description)
		}
		if len(p.Images) > 0 {
			cp.Images = stripe.StringSlice(p.Images)
		}
		cp.SetIdempotencyKey("product-create:" + p.ID)
		prod, err := c.sc.V1Products.Create(ctx, cp)
		if err != nil {
			return MirrorResult{}, providerError(err)
		}
		priceID, err := c.setDefaultPrice(ctx, prod.ID, p)
		if err != nil {
			return MirrorResult{ProductID: prod.ID}, err
		}
		return MirrorResult{ProductID: prod.ID, PriceID: priceID, Action: MirrorCreated}, nil
	}

	res := MirrorResult{ProductID: existing.ID, Action: MirrorUnchanged}
	if existing.DefaultPrice != nil {
		res.PriceID = existing.DefaultPrice.ID
	}

	up := &stripe.ProductUpdateParams{}
	changed := false
	if existing.Name != p.Name {
		up.Name = stripe.String(p.Name)
		changed = true
	}
	if existing.Description != p.Description {
		up.Description = stripe.String(p.Description)
		changed = true
	}
	if !slices.Equal(existing.Images, p.Images) {
		up.Images = stripe.StringSlice(p.Images)
		changed = true
	}
	if changed {
		if _, err := c.sc.V1Products.Update(ctx, existing.ID, up); err != nil {
			return res, providerError(err)
		}
		res.Action = MirrorUpdated
	}

	dp := existing.DefaultPrice
	if dp == nil || dp.UnitAmount != p.UnitAmount || string(dp.Currency) != p.Currency {
		priceID, err := c.setDefaultPrice(ctx, existing.ID, p)
		if err != nil {
			return res, err
		}
		res.PriceID = priceID
		res.Action = MirrorUpdated
	}
	return res, nil
}

func (c *Client) setDefaultPrice(ctx context.Context, productID string, p ProductListing) (string, error) {
	pp := &stripe.PriceCreateParams{
		Currency:   stripe.String(p.Currency),
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(p.UnitAmount),
	}
	pp.SetIdempotencyKey(fmt.Sprintf("price-create:%s:%s:%d", productID, p.Currency, p.UnitAmount))
	price, err := c.sc.V1Prices.Create(ctx, pp)
	if err != nil {
		return "", providerError(err)
	}
	up := &stripe.ProductUpdateParams{DefaultPrice: stripe.String(price.ID)}
	if _, err := c.sc.V1Products.Update(ctx, productID, up); err != nil {
		return price.ID, providerError(err)
	}
	return price.ID, nil
}

// CreatePaymentLink opens a one-off checkout session for a single unit of an
// existing price and returns its URL.
func (c *Client) CreatePaymentLink(ctx context.Context, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
	}
	s, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", providerError(err)
	}
	return s.URL, nil
}
