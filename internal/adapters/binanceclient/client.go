package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/indicators"
	"bracketbot/internal/ports"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.ExchangeClient interface for Binance spot using
// the go-binance library. All order actions carry a client order ID so the
// venue deduplicates retried submissions.
type Client struct {
	spot        *binance.Client
	logger      ports.Logger
	atrInterval string
	retry       retryPolicy
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	ATRInterval string        // kline interval for ATR computation (e.g., "1h")
	RetryBase   time.Duration // base delay for transient-failure backoff
	RetryMax    int           // max attempts per external call
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	spot := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		spot.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": spot.BaseURL})
	} else {
		spot.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": spot.BaseURL})
	}

	atrInterval := cfg.ATRInterval
	if atrInterval == "" {
		atrInterval = "1h"
	}

	c := &Client{
		spot:        spot,
		logger:      cfg.Logger,
		atrInterval: atrInterval,
	}
	c.initRetry(cfg.RetryBase, cfg.RetryMax)
	return c, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1013, -1100, -1101, -1102, -1103, -1104, -1106, -1111, -1121: // Filter/parameter errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
				mappedErr = ports.ErrDuplicateOrder
			} else if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011: // Cancel rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API key format / permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetTickerPrice retrieves the last traded price for an instrument.
func (c *Client) GetTickerPrice(ctx context.Context, instrument string) (float64, error) {
	op := "GetTickerPrice"
	var price float64
	err := c.withRetry(ctx, op, func() error {
		prices, err := c.spot.NewListPricesService().Symbol(instrument).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		if len(prices) == 0 {
			return c.handleError(ctx, fmt.Errorf("no price data returned for %s", instrument), op)
		}
		price, err = strconv.ParseFloat(prices[0].Price, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
		}
		return nil
	})
	return price, err
}

// GetBookTicker retrieves the current best bid and ask for an instrument.
func (c *Client) GetBookTicker(ctx context.Context, instrument string) (float64, float64, error) {
	op := "GetBookTicker"
	var bid, ask float64
	err := c.withRetry(ctx, op, func() error {
		books, err := c.spot.NewListBookTickersService().Symbol(instrument).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		if len(books) == 0 {
			return c.handleError(ctx, fmt.Errorf("no book ticker returned for %s", instrument), op)
		}
		bid, err = strconv.ParseFloat(books[0].BidPrice, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse bid '%s': %w", books[0].BidPrice, err), op)
		}
		ask, err = strconv.ParseFloat(books[0].AskPrice, 64)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse ask '%s': %w", books[0].AskPrice, err), op)
		}
		return nil
	})
	return bid, ask, err
}

// GetATR computes the Average True Range for an instrument from recent klines.
func (c *Client) GetATR(ctx context.Context, instrument string, period int) (float64, error) {
	op := "GetATR"
	klines, err := c.GetKlines(ctx, instrument, c.atrInterval, period*3)
	if err != nil {
		return 0, err
	}
	atr, err := indicators.ATR(klines, period)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	return atr, nil
}

// GetAccountBalance retrieves the free balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	var balance float64
	err := c.withRetry(ctx, op, func() error {
		account, err := c.spot.NewGetAccountService().Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		for _, bal := range account.Balances {
			if bal.Asset == asset {
				balance, err = strconv.ParseFloat(bal.Free, 64)
				if err != nil {
					return c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.Free, asset, err), op)
				}
				return nil
			}
		}
		balance = 0 // Asset absent from the account means zero free balance
		return nil
	})
	return balance, err
}

// PlaceMarketOrder places a market order identified by clientOrderID. A
// duplicate submission with the same ID is resolved by fetching the original
// order, so retries never double-fill.
func (c *Client) PlaceMarketOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity float64, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	quantityStr := strconv.FormatFloat(quantity, 'f', -1, 64)

	var resp *ports.OrderResponse
	err := c.withRetry(ctx, op, func() error {
		order, err := c.spot.NewCreateOrderService().
			Symbol(instrument).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeMarket).
			Quantity(quantityStr).
			NewClientOrderID(clientOrderID).
			Do(ctx)
		if err != nil {
			handled := c.handleError(ctx, err, op)
			if errors.Is(handled, ports.ErrDuplicateOrder) {
				// The previous attempt reached the venue; fetch it instead.
				existing, lookupErr := c.lookupOrder(ctx, instrument, clientOrderID)
				if lookupErr != nil {
					return lookupErr
				}
				resp = existing
				return nil
			}
			return handled
		}
		resp = translateCreateResponse(order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"instrument":    instrument,
		"side":          side,
		"quantity":      quantityStr,
		"clientOrderID": clientOrderID,
		"avgPrice":      resp.AvgPrice,
	})
	return resp, nil
}

// CancelOrder cancels an open order by its client identifier.
func (c *Client) CancelOrder(ctx context.Context, instrument string, clientOrderID string) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	var resp *ports.OrderResponse
	err := c.withRetry(ctx, op, func() error {
		res, err := c.spot.NewCancelOrderService().
			Symbol(instrument).
			OrigClientOrderID(clientOrderID).
			Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
		cumQuote, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
		resp = &ports.OrderResponse{
			OrderID:       res.OrderID,
			ClientOrderID: res.OrigClientOrderID,
			Instrument:    res.Symbol,
			AvgPrice:      avgFillPrice(cumQuote, executed),
			ExecutedQty:   executed,
			Status:        string(res.Status),
			Side:          string(res.Side),
			Timestamp:     time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"instrument": instrument, "clientOrderID": clientOrderID, "status": resp.Status})
	return resp, nil
}

// GetKlines retrieves historical klines/candlestick data for the given instrument.
func (c *Client) GetKlines(ctx context.Context, instrument string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	var out []*domain.Kline
	err := c.withRetry(ctx, op, func() error {
		binanceKlines, err := c.spot.NewKlinesService().Symbol(instrument).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		out = make([]*domain.Kline, 0, len(binanceKlines))
		for _, bk := range binanceKlines {
			dk, err := translateKline(bk, instrument)
			if err != nil {
				return c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
			}
			out = append(out, dk)
		}
		return nil
	})
	return out, err
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.spot.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// lookupOrder fetches an existing order by its client identifier.
func (c *Client) lookupOrder(ctx context.Context, instrument, clientOrderID string) (*ports.OrderResponse, error) {
	op := "lookupOrder"
	order, err := c.spot.NewGetOrderService().
		Symbol(instrument).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Instrument:    order.Symbol,
		AvgPrice:      avgFillPrice(cumQuote, executed),
		ExecutedQty:   executed,
		Status:        string(order.Status),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}, nil
}

// --- Translation Helpers ---

func translateCreateResponse(order *binance.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Instrument:    order.Symbol,
		AvgPrice:      avgFillPrice(cumQuote, executed),
		ExecutedQty:   executed,
		Status:        string(order.Status),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.TransactTime),
	}
}

// avgFillPrice derives the average fill price from the cumulative quote
// amount; spot create responses carry no AvgPrice field.
func avgFillPrice(cumQuote, executedQty float64) float64 {
	if executedQty <= 0 {
		return 0
	}
	return cumQuote / executedQty
}

func translateKline(bk *binance.Kline, instrument string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:   time.UnixMilli(bk.OpenTime),
		CloseTime:  time.UnixMilli(bk.CloseTime),
		Instrument: instrument,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      cls,
		Volume:     vol,
	}, nil
}
