package state

import "errors"

// Errors returned by ledger operations. A failed operation leaves no trace
// in state, balances or the event log.
var (
	ErrNotOwner                 = errors.New("blue: not owner")
	ErrNotAuthorized            = errors.New("blue: not authorized")
	ErrAlreadySet               = errors.New("blue: already set")
	ErrMarketAlreadyExists      = errors.New("blue: market already created")
	ErrMarketNotCreated         = errors.New("blue: market not created")
	ErrRateModelNotEnabled      = errors.New("blue: rate model not enabled")
	ErrLltvNotEnabled           = errors.New("blue: lltv not enabled")
	ErrLltvTooHigh              = errors.New("blue: max lltv exceeded")
	ErrFeeTooHigh               = errors.New("blue: max fee exceeded")
	ErrInconsistentInput        = errors.New("blue: inconsistent input")
	ErrZeroAssets               = errors.New("blue: zero assets")
	ErrZeroAddress              = errors.New("blue: zero address")
	ErrInsufficientLiquidity    = errors.New("blue: insufficient liquidity")
	ErrInsufficientCollateral   = errors.New("blue: insufficient collateral")
	ErrHealthyPosition          = errors.New("blue: position is healthy")
	ErrLiquidationWorsensHealth = errors.New("blue: liquidation worsens health")
	ErrFlashLoanNotRepaid       = errors.New("blue: flash loan not repaid")
	ErrStaleTimestamp           = errors.New("blue: timestamp before last update")
	ErrInsufficientBalance      = errors.New("blue: insufficient balance")
	ErrInsufficientAllowance    = errors.New("blue: insufficient allowance")
	ErrTransferFailed           = errors.New("blue: transfer failed")
	ErrUnknownToken             = errors.New("blue: unknown token")
	ErrUnknownOracle            = errors.New("blue: unknown oracle")
	ErrUnknownRateModel         = errors.New("blue: unknown rate model")
	ErrPriceUnavailable         = errors.New("blue: oracle price unavailable")
	ErrMissingCallback          = errors.New("blue: callback required")
)

// ErrUnhealthy is the name health checks use for the collateral failure.
var ErrUnhealthy = ErrInsufficientCollateral
