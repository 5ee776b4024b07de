package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
)

type Variant struct {
	ID    int64  `json:"id"`
	SKU   string `json:"sku"`
	Price string `json:"price"`
}

type Image struct {
	Src string `json:"src"`
}

type Product struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	BodyHTML string    `json:"body_html"`
	Status   string    `json:"status"`
	Variants []Variant `json:"variants"`
	Image    *Image    `json:"image"`
	Images   []Image   `json:"images"`
}

// ImageURLs lists the product image sources, featured image first.
func (p Product) ImageURLs() []string {
	var out []string
	seen := map[string]bool{}
	add := func(src string) {
		if src != "" && !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	if p.Image != nil {
		add(p.Image.Src)
	}
	for _, im := range p.Images {
		add(im.Src)
	}
	return out
}

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ProductPage fetches one page of products. pageInfo is the cursor returned
// by the previous page, empty for the first one; next is empty on the last page.
func (c *Client) ProductPage(ctx context.Context, pageInfo string, limit int) (products []Product, next string, err error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if pageInfo != "" {
		q.Set("page_info", pageInfo)
	}
	res, err := c.do(ctx, http.MethodGet, "/products.json?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	var out struct {
		Products []Product `json:"products"`
	}
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, "", fmt.Errorf("decode products: %w", err)
	}
	return out.Products, nextPageInfo(res.header.Get("Link")), nil
}

// EachProduct walks every page of the catalog, calling fn per product.
// Returning an error from fn stops the walk.
func (c *Client) EachProduct(ctx context.Context, limit int, fn func(Product) error) error {
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	cursor := ""
	for {
		page, next, err := c.ProductPage(ctx, cursor, limit)
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func nextPageInfo(link string) string {
	m := nextLink.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}
