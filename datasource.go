package switchboard

import "context"

// DataSource abstracts access to domain records (orders, customers). Tool
// handlers depend on this interface only, so the backing implementation —
// datasource/jsonfile, datasource/postgres, datasource/remote — can be
// swapped without touching router or runner code.
//
// Lookups return (nil, nil) when the record does not exist; errors are
// reserved for backend faults.
type DataSource interface {
	GetOrder(ctx context.Context, orderID string) (map[string]any, error)
	GetCustomer(ctx context.Context, customerID string) (map[string]any, error)
}
