// Package remote implements switchboard.DataSource over an HTTP API
// exposing /orders/{id} and /customers/{id} JSON endpoints.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mirako/switchboard"
)

// Source fetches records from a remote service. A 404 maps onto the
// (nil, nil) not-found convention; any other non-200 status surfaces as
// switchboard.ErrHTTP.
type Source struct {
	baseURL string
	client  *http.Client
}

var _ switchboard.DataSource = (*Source)(nil)

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithHTTPClient overrides the default client (10 s timeout).
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) { s.client = c }
}

// New creates a source over the given API base URL.
func New(baseURL string, opts ...SourceOption) *Source {
	s := &Source{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	return s.get(ctx, "orders", orderID)
}

func (s *Source) GetCustomer(ctx context.Context, customerID string) (map[string]any, error) {
	return s.get(ctx, "customers", customerID)
}

func (s *Source) get(ctx context.Context, collection, id string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", s.baseURL, collection, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "remote", Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "remote", Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &switchboard.ErrHTTP{Status: resp.StatusCode, Body: string(raw)}
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, &switchboard.ErrBackend{Backend: "remote", Message: "decode record: " + err.Error()}
	}
	return record, nil
}
