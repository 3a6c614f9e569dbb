package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mirako/switchboard"
)

func newSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestGetOrder(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/O-12345" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "O-12345", "status": "shipped"})
	})

	record, err := src.GetOrder(context.Background(), "O-12345")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if record["status"] != "shipped" {
		t.Errorf("record = %v", record)
	}
}

func TestGetCustomerEscapesID(t *testing.T) {
	var gotPath string
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]any{"customer_id": "a/b"})
	})

	if _, err := src.GetCustomer(context.Background(), "a/b"); err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if gotPath != "/customers/a%2Fb" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestNotFoundIsNilNil(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	record, err := src.GetOrder(context.Background(), "O-0")
	if record != nil || err != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", record, err)
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := src.GetOrder(context.Background(), "O-1")
	var httpErr *switchboard.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", httpErr.Status)
	}
}

func TestMalformedBody(t *testing.T) {
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := src.GetOrder(context.Background(), "O-1")
	var backendErr *switchboard.ErrBackend
	if !errors.As(err, &backendErr) {
		t.Fatalf("err = %v, want ErrBackend", err)
	}
}
