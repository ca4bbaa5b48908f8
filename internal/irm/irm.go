package irm

import (
	"fmt"

	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/holiman/uint256"
)

// SecondsPerYear converts annual rates into the per-second rates accrual expects.
const SecondsPerYear = 31_536_000

// Kinked is a two-slope utilization curve. All rates are annual and WAD-scaled:
//
//	rate = Base + min(u, Kink) * Slope1 + max(u - Kink, 0) * Slope2
type Kinked struct {
	Base   *uint256.Int
	Slope1 *uint256.Int
	Slope2 *uint256.Int
	Kink   *uint256.Int
}

// DefaultKinked returns 0% base, 4% below an 80% kink and 75% above it.
func DefaultKinked() *Kinked {
	return &Kinked{
		Base:   fpmath.Zero(),
		Slope1: fpmath.Wad(4, 2),
		Slope2: fpmath.Wad(75, 2),
		Kink:   fpmath.Wad(8, 1),
	}
}

// Validate checks that the curve parameters are within valid ranges.
func (k *Kinked) Validate() error {
	if k.Base == nil || k.Slope1 == nil || k.Slope2 == nil || k.Kink == nil {
		return fmt.Errorf("kinked rate model: base, slope1, slope2 and kink are required")
	}
	if k.Kink.IsZero() || k.Kink.Gt(fpmath.WAD) {
		return fmt.Errorf("kinked rate model: kink must be in (0, 1e18], got %s", k.Kink.Dec())
	}
	return nil
}

// Utilization returns totalBorrowAssets / totalSupplyAssets, WAD-scaled and capped at 1.
func Utilization(m state.Market) (*uint256.Int, error) {
	if m.TotalSupplyAssets.IsZero() {
		return fpmath.Zero(), nil
	}
	u, err := fpmath.WDivDown(m.TotalBorrowAssets, m.TotalSupplyAssets)
	if err != nil {
		return nil, err
	}
	return fpmath.Min(u, fpmath.WAD), nil
}

// AnnualRate returns the WAD-scaled annual borrow rate at utilization u.
func (k *Kinked) AnnualRate(u *uint256.Int) (*uint256.Int, error) {
	below, err := fpmath.WMulDown(fpmath.Min(u, k.Kink), k.Slope1)
	if err != nil {
		return nil, err
	}
	above, err := fpmath.WMulDown(fpmath.ZeroFloorSub(u, k.Kink), k.Slope2)
	if err != nil {
		return nil, err
	}
	rate, err := fpmath.Add(k.Base, below)
	if err != nil {
		return nil, err
	}
	return fpmath.Add(rate, above)
}

// BorrowRate returns the per-second WAD-scaled borrow rate for the market.
func (k *Kinked) BorrowRate(_ state.MarketParams, m state.Market) (*uint256.Int, error) {
	u, err := Utilization(m)
	if err != nil {
		return nil, err
	}
	annual, err := k.AnnualRate(u)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(annual, uint256.NewInt(SecondsPerYear)), nil
}

// Fixed charges the same per-second rate regardless of utilization.
type Fixed struct {
	Rate *uint256.Int
}

// NewFixedAnnual builds a Fixed model from a WAD-scaled annual rate.
func NewFixedAnnual(annual *uint256.Int) *Fixed {
	return &Fixed{Rate: new(uint256.Int).Div(annual, uint256.NewInt(SecondsPerYear))}
}

func (f *Fixed) BorrowRate(state.MarketParams, state.Market) (*uint256.Int, error) {
	return f.Rate.Clone(), nil
}
