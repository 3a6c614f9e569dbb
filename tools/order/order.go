// Package order provides the built-in customer-support tool handlers:
// order status lookup, refund issuing, and support ticket creation.
//
// Handlers are pure lookups over a switchboard.DataSource so they can be
// exercised independently of the router.
package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mirako/switchboard"
)

// CheckStatus returns a handler that looks up an order by order_id.
// Absent orders fail with "order_not_found" so the runner can phrase a
// recovery prompt instead of a generic apology.
func CheckStatus(ds switchboard.DataSource) switchboard.ToolFunc {
	return func(ctx context.Context, params map[string]string) switchboard.ToolResult {
		orderID := params["order_id"]
		if orderID == "" {
			return switchboard.ToolResult{Error: "missing order_id"}
		}
		rec, err := ds.GetOrder(ctx, orderID)
		if err != nil {
			return switchboard.ToolResult{Error: err.Error()}
		}
		if rec == nil {
			return switchboard.ToolResult{Error: "order_not_found"}
		}
		return switchboard.ToolResult{Success: true, Data: rec}
	}
}

// IssueRefund returns a handler that validates the order exists and records
// a refund intent. The refund amount rides along for policy evaluation; the
// handler itself does not enforce limits.
func IssueRefund(ds switchboard.DataSource) switchboard.ToolFunc {
	return func(ctx context.Context, params map[string]string) switchboard.ToolResult {
		orderID := params["order_id"]
		if orderID == "" {
			return switchboard.ToolResult{Error: "missing order_id"}
		}
		rec, err := ds.GetOrder(ctx, orderID)
		if err != nil {
			return switchboard.ToolResult{Error: err.Error()}
		}
		if rec == nil {
			return switchboard.ToolResult{Error: "order_not_found"}
		}
		amount := 0.0
		if raw := params["amount"]; raw != "" {
			amount, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return switchboard.ToolResult{Error: "invalid amount"}
			}
		}
		return switchboard.ToolResult{Success: true, Data: map[string]any{
			"order_id":  orderID,
			"amount":    amount,
			"refund_id": switchboard.NewID(),
			"state":     "refund_requested",
		}}
	}
}

// CreateTicket returns a handler that opens a support ticket for a customer.
func CreateTicket(ds switchboard.DataSource) switchboard.ToolFunc {
	return func(ctx context.Context, params map[string]string) switchboard.ToolResult {
		subject := params["subject"]
		if subject == "" {
			return switchboard.ToolResult{Error: "missing subject"}
		}
		if customerID := params["customer_id"]; customerID != "" {
			rec, err := ds.GetCustomer(ctx, customerID)
			if err != nil {
				return switchboard.ToolResult{Error: err.Error()}
			}
			if rec == nil {
				return switchboard.ToolResult{Error: "customer_not_found"}
			}
		}
		return switchboard.ToolResult{Success: true, Data: map[string]any{
			"ticket_id": switchboard.NewID(),
			"subject":   subject,
			"state":     "open",
		}}
	}
}

// Summarize renders an order record as a short human-friendly line:
// "status: shipped, carrier: UPS, ETA: 2026-08-25". Suitable for
// switchboard.WithSummarizer on the plan runner.
func Summarize(result switchboard.ToolResult) string {
	data := result.Data
	status, _ := data["status"].(string)
	if status == "" {
		status = "unknown"
	}
	parts := []string{fmt.Sprintf("status: %s", strings.ReplaceAll(status, "_", " "))}
	if carrier, _ := data["carrier"].(string); carrier != "" {
		parts = append(parts, "carrier: "+carrier)
	}
	eta, _ := data["eta"].(string)
	if eta == "" {
		eta, _ = data["delivered_at"].(string)
	}
	if eta != "" {
		parts = append(parts, "ETA: "+eta)
	}
	return strings.Join(parts, ", ")
}
