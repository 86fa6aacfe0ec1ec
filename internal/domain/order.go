package domain

import (
	"context"
	"fmt"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideFor returns the order side that opens exposure in the given direction.
func SideFor(d Direction) OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is a single order handed to the execution adapter.
// ClientOrderID is caller-assigned and idempotent: resubmitting the same ID
// must not place a second order.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64 // limit price; ignored for market orders
	ReduceOnly    bool
}

// OrderResult reports the adapter's outcome for one order. FilledQty may be
// less than requested; callers must size positions from FilledQty, never
// from the request.
type OrderResult struct {
	OrderID   string
	Success   bool
	FilledQty float64
	AvgPrice  float64
	Fee       float64
	Message   string // populated on failure or partial fill
}

// Partial reports whether the order filled but for less than the requested
// quantity.
func (r OrderResult) Partial(requested float64) bool {
	return r.Success && r.FilledQty > 0 && r.FilledQty < requested-1e-9
}

// Err classifies the result against the requested quantity: nil for a full
// fill, ErrExecutionPartial for a short fill, ErrExecutionRejected for a
// failure or a success that filled nothing.
func (r OrderResult) Err(requested float64) error {
	if !r.Success || r.FilledQty <= 0 {
		msg := r.Message
		if msg == "" {
			msg = "no fill"
		}
		return fmt.Errorf("%w: %s", ErrExecutionRejected, msg)
	}
	if r.Partial(requested) {
		return fmt.Errorf("%w: %.8f of %.8f", ErrExecutionPartial, r.FilledQty, requested)
	}
	return nil
}

// ExecutionAdapter places and cancels orders on a venue. The core depends
// only on this contract; retries, if any, are the adapter's concern and must
// be idempotent via client order IDs.
type ExecutionAdapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}
