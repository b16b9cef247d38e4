package ports

import (
	"context"
	"time"

	"bracketbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing or
// cancelling an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	ClientOrderID string    // Client-assigned idempotency key
	Instrument    string    // Instrument for the order
	AvgPrice      float64   // Average filled price (0 if not yet filled)
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// ExchangeClient defines the interface for interacting with a trading venue.
// All order actions carry a client-assigned identifier so that retries of the
// same action are idempotent on the venue side.
type ExchangeClient interface {
	// GetTickerPrice retrieves the last traded price for an instrument.
	GetTickerPrice(ctx context.Context, instrument string) (float64, error)

	// GetBookTicker retrieves the current best bid and ask for an instrument.
	GetBookTicker(ctx context.Context, instrument string) (bid, ask float64, err error)

	// GetATR returns the current Average True Range for an instrument over
	// the given period, used for trailing stop recomputation.
	GetATR(ctx context.Context, instrument string, period int) (float64, error)

	// GetAccountBalance retrieves the free balance for a specific asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// PlaceMarketOrder places a market order identified by clientOrderID.
	// Submitting the same clientOrderID twice must not produce a second fill;
	// the original order's details are returned instead.
	PlaceMarketOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity float64, clientOrderID string) (*OrderResponse, error)

	// CancelOrder cancels an open order by its client identifier.
	CancelOrder(ctx context.Context, instrument string, clientOrderID string) (*OrderResponse, error)

	// GetKlines retrieves historical candles for an instrument.
	GetKlines(ctx context.Context, instrument string, interval string, limit int) ([]*domain.Kline, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}
