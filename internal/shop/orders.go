package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

const FinancialStatusPaid = "paid"

type LineItem struct {
	Title    string          `json:"title"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type Address struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	Province    string `json:"province_code,omitempty"`
	Zip         string `json:"zip,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Order struct {
	Email           string          `json:"email"`
	FinancialStatus string          `json:"financial_status"`
	Currency        string          `json:"currency,omitempty"`
	LineItems       []LineItem      `json:"line_items"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	Tags            string          `json:"tags,omitempty"`
	NoteAttributes  []NoteAttribute `json:"note_attributes,omitempty"`
}

type CreatedOrder struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TotalPrice string `json:"total_price"`
}

func (c *Client) CreateOrder(ctx context.Context, o Order) (CreatedOrder, error) {
	res, err := c.do(ctx, http.MethodPost, "/orders.json", map[string]Order{"order": o})
	if err != nil {
		return CreatedOrder{}, err
	}
	var out struct {
		Order CreatedOrder `json:"order"`
	}
	if err := json.Unmarshal(res.body, &out); err != nil {
		return CreatedOrder{}, fmt.Errorf("decode order: %w", err)
	}
	if out.Order.ID == 0 {
		return CreatedOrder{}, fmt.Errorf("decode order: missing id in %s", res.body)
	}
	return out.Order, nil
}
