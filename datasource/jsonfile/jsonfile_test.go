package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeOrders(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const orders = `[
  {"order_id": "O-12345", "status": "shipped", "carrier": "UPS", "eta": "2026-08-25"},
  {"order_id": "O-67890", "status": "processing"}
]`

func TestGetOrder(t *testing.T) {
	src := New(writeOrders(t, orders), "")
	ctx := context.Background()

	rec, err := src.GetOrder(ctx, "O-12345")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if rec["status"] != "shipped" || rec["carrier"] != "UPS" {
		t.Errorf("record = %v", rec)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	src := New(writeOrders(t, orders), "")

	rec, err := src.GetOrder(context.Background(), "O-00000")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %v, want nil for miss", rec)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "nope"},
		{"record without id", `[{"status": "shipped"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := New(writeOrders(t, tt.content), "")
			if _, err := src.GetOrder(context.Background(), "O-1"); err == nil {
				t.Error("want load error")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "absent.json"), "")
	if _, err := src.GetOrder(context.Background(), "O-1"); err == nil {
		t.Error("want error for missing file")
	}
}

func TestCustomersOptional(t *testing.T) {
	src := New(writeOrders(t, orders), "")

	rec, err := src.GetCustomer(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if rec != nil {
		t.Error("customer lookups without a file should miss")
	}
}
