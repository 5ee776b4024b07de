package checkout

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrNoValidProducts = errors.New("no valid products")
	ErrAmountTooLarge  = errors.New("cart total too large")
)

// MaxQuantity bounds a single line item.
const MaxQuantity int64 = 999999

// InputError marks a problem with client-submitted cart fields.
type InputError struct {
	Msg string
	Err error
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Unwrap() error { return e.Err }

func inputErrorf(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

type LineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int64  `json:"quantity"`
}

type Cart struct {
	Items []LineItem `json:"items"`
}

// Total is the payable amount in minor units. It fails with
// ErrAmountTooLarge once the sum passes MaxMinorUnits.
func (c Cart) Total() (int64, error) {
	var total int64
	for _, it := range c.Items {
		if it.UnitAmount < 0 || it.Quantity < 0 {
			return 0, fmt.Errorf("item %q: negative amount", it.Name)
		}
		if it.Quantity > 0 && it.UnitAmount > (MaxMinorUnits-total)/it.Quantity {
			return 0, ErrAmountTooLarge
		}
		total += it.UnitAmount * it.Quantity
	}
	return total, nil
}

// ParseCart reads the parallel product_name[] / product_price[] / quantity[]
// form arrays. The unbracketed single-product names are accepted as a
// fallback. When no quantity field is sent at all every item gets quantity 1.
// Items with quantity <= 0 are dropped; a cart left empty is rejected.
func ParseCart(form url.Values) (Cart, error) {
	names := field(form, "product_name")
	prices := field(form, "product_price")
	qtys := field(form, "quantity")

	if len(names) == 0 || len(prices) == 0 {
		return Cart{}, inputErrorf("missing product name or price")
	}
	if len(names) != len(prices) {
		return Cart{}, inputErrorf("product_name and product_price counts differ (%d != %d)", len(names), len(prices))
	}
	if qtys != nil && len(qtys) != len(names) {
		return Cart{}, inputErrorf("quantity count differs from product count (%d != %d)", len(qtys), len(names))
	}

	items := make([]LineItem, 0, len(names))
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return Cart{}, inputErrorf("product %d: missing name", i+1)
		}
		amount, err := MinorUnits(prices[i])
		if err != nil {
			return Cart{}, inputErrorf("product %q: %v", name, err)
		}
		qty := int64(1)
		if qtys != nil {
			qty, err = strconv.ParseInt(strings.TrimSpace(qtys[i]), 10, 64)
			if err != nil {
				return Cart{}, inputErrorf("product %q: invalid quantity %q", name, qtys[i])
			}
		}
		if qty <= 0 {
			continue
		}
		if qty > MaxQuantity {
			return Cart{}, inputErrorf("product %q: quantity %d exceeds %d", name, qty, MaxQuantity)
		}
		items = append(items, LineItem{Name: name, UnitAmount: amount, Quantity: qty})
	}

	if len(items) == 0 {
		return Cart{}, &InputError{Msg: ErrNoValidProducts.Error(), Err: ErrNoValidProducts}
	}
	cart := Cart{Items: items}
	if _, err := cart.Total(); err != nil {
		return Cart{}, &InputError{Msg: err.Error(), Err: err}
	}
	return cart, nil
}

func field(form url.Values, name string) []string {
	if v, ok := form[name+"[]"]; ok {
		return v
	}
	if v, ok := form[name]; ok {
		return v
	}
	return nil
}
