package state

import (
	"fmt"

	fpmath "BlueLedger/internal/math"

	"github.com/holiman/uint256"
)

// LiquidationParams shape the liquidation incentive factor:
// min(MaxIncentiveFactor, 1 / (1 - Cursor * (1 - lltv))).
type LiquidationParams struct {
	Cursor             *uint256.Int
	MaxIncentiveFactor *uint256.Int
}

// DefaultLiquidationParams returns cursor 0.3 and cap 1.15.
func DefaultLiquidationParams() LiquidationParams {
	return LiquidationParams{
		Cursor:             fpmath.Wad(3, 1),
		MaxIncentiveFactor: fpmath.Wad(115, 2),
	}
}

// Validate checks that liquidation parameters are within valid ranges.
func (lp LiquidationParams) Validate() error {
	if lp.Cursor == nil || lp.MaxIncentiveFactor == nil {
		return fmt.Errorf("liquidation cursor and max incentive factor are required")
	}
	if lp.Cursor.Cmp(fpmath.WAD) >= 0 {
		return fmt.Errorf("liquidation cursor must be < 1e18, got %s", lp.Cursor.Dec())
	}
	if lp.MaxIncentiveFactor.Lt(fpmath.WAD) {
		return fmt.Errorf("max incentive factor must be >= 1e18, got %s", lp.MaxIncentiveFactor.Dec())
	}
	return nil
}

// IncentiveFactor returns the WAD-scaled bonus multiplier for a market's LLTV.
func (lp LiquidationParams) IncentiveFactor(lltv *uint256.Int) (*uint256.Int, error) {
	gap, err := fpmath.WMulDown(lp.Cursor, fpmath.ZeroFloorSub(fpmath.WAD, lltv))
	if err != nil {
		return nil, err
	}
	denom, err := fpmath.Sub(fpmath.WAD, gap)
	if err != nil {
		return nil, err
	}
	factor, err := fpmath.WDivDown(fpmath.WAD, denom)
	if err != nil {
		return nil, err
	}
	return fpmath.Min(lp.MaxIncentiveFactor, factor), nil
}

// Seizure is the resolved outcome of a liquidation request.
type Seizure struct {
	SeizedAssets *uint256.Int
	RepaidShares *uint256.Int
	RepaidAssets *uint256.Int
}

// ComputeSeizure resolves exactly one of seizedAssets or repaidShares into
// the full seizure. Rounding always favours the protocol.
func (lp LiquidationParams) ComputeSeizure(m *Market, lltv, price, seizedAssets, repaidShares *uint256.Int) (Seizure, error) {
	lif, err := lp.IncentiveFactor(lltv)
	if err != nil {
		return Seizure{}, err
	}

	s := Seizure{}
	if !seizedAssets.IsZero() {
		quoted, err := fpmath.MulDivUp(seizedAssets, price, fpmath.OraclePriceScale)
		if err != nil {
			return Seizure{}, err
		}
		discounted, err := fpmath.WDivUp(quoted, lif)
		if err != nil {
			return Seizure{}, err
		}
		shares, err := fpmath.ToSharesUp(discounted, m.TotalBorrowAssets, m.TotalBorrowShares)
		if err != nil {
			return Seizure{}, err
		}
		s.SeizedAssets = seizedAssets.Clone()
		s.RepaidShares = shares
	} else {
		assets, err := fpmath.ToAssetsDown(repaidShares, m.TotalBorrowAssets, m.TotalBorrowShares)
		if err != nil {
			return Seizure{}, err
		}
		boosted, err := fpmath.WMulDown(assets, lif)
		if err != nil {
			return Seizure{}, err
		}
		if price.IsZero() {
			return Seizure{}, fmt.Errorf("%w: zero price", ErrPriceUnavailable)
		}
		seized, err := fpmath.MulDivDown(boosted, fpmath.OraclePriceScale, price)
		if err != nil {
			return Seizure{}, err
		}
		s.SeizedAssets = seized
		s.RepaidShares = repaidShares.Clone()
	}

	s.RepaidAssets, err = fpmath.ToAssetsUp(s.RepaidShares, m.TotalBorrowAssets, m.TotalBorrowShares)
	if err != nil {
		return Seizure{}, err
	}
	return s, nil
}
