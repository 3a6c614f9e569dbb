// Package postgres implements switchboard.DataSource over PostgreSQL.
//
// The Source accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirako/switchboard"
)

// Source reads order and customer records from the orders and customers
// tables. Records come back as JSONB documents so tool handlers see the same
// map shape every backend produces.
type Source struct {
	pool *pgxpool.Pool
}

var _ switchboard.DataSource = (*Source)(nil)

// New creates a source over the given pool.
func New(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// Init creates the backing tables.
func (s *Source) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			record JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id TEXT PRIMARY KEY,
			record JSONB NOT NULL
		)`,
	}
	for _, q := range tables {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return &switchboard.ErrBackend{Backend: "postgres", Message: err.Error()}
		}
	}
	return nil
}

// GetOrder returns the order record or (nil, nil) when absent.
func (s *Source) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	return s.get(ctx, `SELECT record FROM orders WHERE order_id = $1`, orderID)
}

// GetCustomer returns the customer record or (nil, nil) when absent.
func (s *Source) GetCustomer(ctx context.Context, customerID string) (map[string]any, error) {
	return s.get(ctx, `SELECT record FROM customers WHERE customer_id = $1`, customerID)
}

func (s *Source) get(ctx context.Context, query, id string) (map[string]any, error) {
	var record map[string]any
	err := s.pool.QueryRow(ctx, query, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "postgres", Message: err.Error()}
	}
	return record, nil
}

// PutOrder upserts one order record, for fixtures and demos.
func (s *Source) PutOrder(ctx context.Context, orderID string, record map[string]any) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (order_id, record) VALUES ($1, $2)
		 ON CONFLICT (order_id) DO UPDATE SET record = EXCLUDED.record`,
		orderID, record)
	if err != nil {
		return &switchboard.ErrBackend{Backend: "postgres", Message: err.Error()}
	}
	return nil
}

// PutCustomer upserts one customer record.
func (s *Source) PutCustomer(ctx context.Context, customerID string, record map[string]any) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers (customer_id, record) VALUES ($1, $2)
		 ON CONFLICT (customer_id) DO UPDATE SET record = EXCLUDED.record`,
		customerID, record)
	if err != nil {
		return &switchboard.ErrBackend{Backend: "postgres", Message: err.Error()}
	}
	return nil
}
