// Package feeder polls an external BTC price and pushes signed
// update-btc-price calls to a node.
package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source returns the current BTC price in quote units (e.g. USD).
type Source interface {
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// HTTPSource reads a price from a JSON endpoint. Field is a dotted path to
// the price, which may be a JSON number or a numeric string
// ("data.amount" for {"data":{"amount":"67012.55"}}).
type HTTPSource struct {
	url    string
	field  []string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource with a 10-second timeout.
func NewHTTPSource(url, field string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		field:  strings.Split(field, "."),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("feeder: source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("feeder: source fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("feeder: source status %d: %s", resp.StatusCode, body)
	}
	return extractPrice(resp.Body, s.field)
}

func extractPrice(r io.Reader, path []string) (decimal.Decimal, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, fmt.Errorf("feeder: decode source: %w", err)
	}

	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return decimal.Zero, fmt.Errorf("feeder: field %q: not an object", key)
		}
		if cur, ok = obj[key]; !ok {
			return decimal.Zero, fmt.Errorf("feeder: field %q missing", key)
		}
	}

	var raw string
	switch v := cur.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return decimal.Zero, fmt.Errorf("feeder: price field has type %T", cur)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("feeder: parse price %q: %w", raw, err)
	}
	return price, nil
}
