package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrUnavailable = errors.New("shopify unavailable")

// APIError is a non-2xx answer from the Admin API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether repeating the same request may succeed.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type response struct {
	status int
	header http.Header
	body   []byte
}

type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[response]
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithBaseURL replaces https://{domain}/admin/api/{version}.
func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

func New(domain, token, version string, opts ...Option) *Client {
	c := &Client{
		base:  fmt.Sprintf("https://%s/admin/api/%s", domain, version),
		token: token,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "shopify",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// do sends one request through the circuit breaker. Only transport errors
// and 5xx answers count against the breaker.
func (c *Client) do(ctx context.Context, method, path string, in any) (response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	res, err := c.breaker.Execute(func() (response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("X-Shopify-Access-Token", c.token)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return response{}, err
		}
		r := response{status: resp.StatusCode, header: resp.Header, body: b}
		if resp.StatusCode >= 500 {
			return r, &APIError{Status: resp.StatusCode, Body: string(b)}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return response{}, err
	}
	if res.status < 200 || res.status > 299 {
		return res, &APIError{Status: res.status, Body: string(res.body)}
	}
	return res, nil
}
