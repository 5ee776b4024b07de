package reconcile

import (
	"strings"

	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/shopspring/decimal"
)

const noteSessionID = "stripe_session_id"

// BuildOrder maps a paid session to the order Shopify should record. Unit
// prices come back from minor units, so 1999 becomes 19.99.
func BuildOrder(s payments.CompletedSession) shop.Order {
	o := shop.Order{
		Email:           s.Email,
		FinancialStatus: shop.FinancialStatusPaid,
		Currency:        strings.ToUpper(s.Currency),
		LineItems:       make([]shop.LineItem, 0, len(s.Items)),
		Tags:            "stripe, " + s.ID,
		NoteAttributes:  []shop.NoteAttribute{{Name: noteSessionID, Value: s.ID}},
	}
	for _, it := range s.Items {
		o.LineItems = append(o.LineItems, shop.LineItem{
			Title:    it.Title,
			Quantity: it.Quantity,
			Price:    checkout.MajorUnits(it.UnitAmount),
		})
	}
	if sh := s.Shipping; sh != nil {
		first, last := SplitName(sh.Name)
		o.ShippingAddress = &shop.Address{
			FirstName:   first,
			LastName:    last,
			Address1:    sh.Address.Line1,
			Address2:    sh.Address.Line2,
			City:        sh.Address.City,
			Province:    sh.Address.State,
			Zip:         sh.Address.PostalCode,
			CountryCode: sh.Address.Country,
			Phone:       sh.Phone,
		}
	}
	return o
}

func orderTotal(o shop.Order) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Price.Mul(decimal.NewFromInt(li.Quantity)))
	}
	return total
}

func reconciledItems(o shop.Order) []ReconciledItem {
	out := make([]ReconciledItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		out = append(out, ReconciledItem{Title: li.Title, Quantity: li.Quantity, Price: li.Price.StringFixed(2)})
	}
	return out
}
