// Package jsonfile implements switchboard.DataSource over local JSON files.
// Intended for demos and tests.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mirako/switchboard"
)

// Source is a read-only data source backed by JSON files: a list of order
// records keyed by order_id, and optionally a list of customer records keyed
// by customer_id. Files load lazily on first access.
type Source struct {
	ordersPath    string
	customersPath string

	once      sync.Once
	loadErr   error
	orders    map[string]map[string]any
	customers map[string]map[string]any
}

var _ switchboard.DataSource = (*Source)(nil)

// New creates a source over the given orders file. An empty customersPath
// means customer lookups always miss.
func New(ordersPath, customersPath string) *Source {
	return &Source{ordersPath: ordersPath, customersPath: customersPath}
}

func (s *Source) load() error {
	s.once.Do(func() {
		s.orders, s.loadErr = loadKeyed(s.ordersPath, "order_id")
		if s.loadErr != nil || s.customersPath == "" {
			return
		}
		s.customers, s.loadErr = loadKeyed(s.customersPath, "customer_id")
	})
	return s.loadErr
}

func loadKeyed(path, key string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]map[string]any, len(records))
	for _, rec := range records {
		id, _ := rec[key].(string)
		if id == "" {
			return nil, fmt.Errorf("%s: record without %s", path, key)
		}
		out[id] = rec
	}
	return out, nil
}

// GetOrder returns the order record or (nil, nil) when absent.
func (s *Source) GetOrder(_ context.Context, orderID string) (map[string]any, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.orders[orderID], nil
}

// GetCustomer returns the customer record or (nil, nil) when absent.
func (s *Source) GetCustomer(_ context.Context, customerID string) (map[string]any, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.customers[customerID], nil
}
