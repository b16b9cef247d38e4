package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrDuplicateOrder       = errors.New("order with this client identifier already exists")

	// Admission / Validation Errors
	ErrInvalidProposal   = errors.New("malformed trade proposal")
	ErrBelowMinRR        = errors.New("reward:risk below configured minimum after costs")
	ErrSlotOccupied      = errors.New("an open position already exists for this setup, instrument and direction")
	ErrMaxBracketsOpen   = errors.New("maximum number of open brackets reached")
	ErrQuantityTooSmall  = errors.New("computed quantity below the instrument minimum")
	ErrShortNotPermitted = errors.New("short entry not permitted for this setup or venue inventory")
	ErrNotionalTooSmall  = errors.New("order notional below the configured minimum")
	ErrUnknownSetup      = errors.New("proposal references an unregistered setup")
	ErrPositionNotOpen   = errors.New("position is not open")
	ErrPositionBusy      = errors.New("position is being evaluated by another pass")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
