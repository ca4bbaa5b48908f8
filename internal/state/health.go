package state

import (
	fpmath "BlueLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// HealthStatus classifies a position against its market's LLTV.
type HealthStatus int32

const (
	HealthStatusNoDebt HealthStatus = iota
	HealthStatusHealthy
	HealthStatusUnhealthy
)

func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusNoDebt:
		return "NoDebt"
	case HealthStatusHealthy:
		return "Healthy"
	case HealthStatusUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// BorrowedAssets returns the debt of a position, rounded up.
func BorrowedAssets(m *Market, pos *Position) (*uint256.Int, error) {
	return fpmath.ToAssetsUp(pos.BorrowShares, m.TotalBorrowAssets, m.TotalBorrowShares)
}

// MaxBorrow returns collateral * price / 1e36 * lltv, rounded down.
func MaxBorrow(collateral, price, lltv *uint256.Int) (*uint256.Int, error) {
	value, err := fpmath.MulDivDown(collateral, price, fpmath.OraclePriceScale)
	if err != nil {
		return nil, err
	}
	return fpmath.WMulDown(value, lltv)
}

// CheckHealth classifies a position at the given oracle price.
func CheckHealth(params MarketParams, m *Market, pos *Position, price *uint256.Int) (HealthStatus, error) {
	if !pos.HasDebt() {
		return HealthStatusNoDebt, nil
	}

	borrowed, err := BorrowedAssets(m, pos)
	if err != nil {
		return 0, err
	}
	maxBorrow, err := MaxBorrow(pos.Collateral, price, params.Lltv)
	if err != nil {
		return 0, err
	}

	if maxBorrow.Cmp(borrowed) >= 0 {
		return HealthStatusHealthy, nil
	}
	return HealthStatusUnhealthy, nil
}

// IsHealthy reports whether a position may keep its debt. Positions with
// no borrow shares are always healthy.
func IsHealthy(params MarketParams, m *Market, pos *Position, price *uint256.Int) (bool, error) {
	status, err := CheckHealth(params, m, pos, price)
	if err != nil {
		return false, err
	}
	return status != HealthStatusUnhealthy, nil
}

// HealthFactor returns maxBorrow / borrowed to 18 decimal places. ok is
// false for positions without debt.
func HealthFactor(params MarketParams, m *Market, pos *Position, price *uint256.Int) (factor decimal.Decimal, ok bool, err error) {
	if !pos.HasDebt() {
		return decimal.Zero, false, nil
	}

	borrowed, err := BorrowedAssets(m, pos)
	if err != nil {
		return decimal.Zero, false, err
	}
	maxBorrow, err := MaxBorrow(pos.Collateral, price, params.Lltv)
	if err != nil {
		return decimal.Zero, false, err
	}
	if borrowed.IsZero() {
		return decimal.Zero, false, nil
	}

	return Decimal(maxBorrow).DivRound(Decimal(borrowed), fpmath.WadDecimals), true, nil
}

// HealthReading holds both sides of a position's health ratio,
// MaxBorrow / Borrowed.
type HealthReading struct {
	MaxBorrow *uint256.Int
	Borrowed  *uint256.Int
}

// ReadHealth evaluates a position at the given oracle price.
func ReadHealth(params MarketParams, m *Market, pos *Position, price *uint256.Int) (HealthReading, error) {
	borrowed, err := BorrowedAssets(m, pos)
	if err != nil {
		return HealthReading{}, err
	}
	maxBorrow, err := MaxBorrow(pos.Collateral, price, params.Lltv)
	if err != nil {
		return HealthReading{}, err
	}
	return HealthReading{MaxBorrow: maxBorrow, Borrowed: borrowed}, nil
}

// ImprovedBy reports whether next has a strictly higher ratio than r. The
// ratios are compared by cross multiplication so no precision is lost. A
// reading without debt beats any reading with debt.
func (r HealthReading) ImprovedBy(next HealthReading) bool {
	if next.Borrowed.IsZero() {
		return !r.Borrowed.IsZero()
	}
	if r.Borrowed.IsZero() {
		return false
	}
	lhs := Decimal(next.MaxBorrow).Mul(Decimal(r.Borrowed))
	rhs := Decimal(r.MaxBorrow).Mul(Decimal(next.Borrowed))
	return lhs.GreaterThan(rhs)
}

// Decimal converts an integer amount for display.
func Decimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// WadDecimal renders a WAD-scaled value as a decimal fraction.
func WadDecimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -fpmath.WadDecimals)
}
