package state

import (
	fpmath "BlueLedger/internal/math"

	"github.com/holiman/uint256"
)

// BadDebt is debt left on a position whose collateral has been fully seized.
type BadDebt struct {
	Shares *uint256.Int
	Assets *uint256.Int
}

func (b BadDebt) IsZero() bool {
	return b.Shares == nil || b.Shares.IsZero()
}

// RealizeBadDebt socializes the remaining debt of a collateral-less position
// across the market's suppliers: the assets leave both totals, the shares
// leave the borrow side and the position's borrow shares are cleared.
func RealizeBadDebt(m *Market, pos *Position) (BadDebt, error) {
	if !pos.Collateral.IsZero() || pos.BorrowShares.IsZero() {
		return BadDebt{}, nil
	}

	shares := pos.BorrowShares.Clone()
	owed, err := fpmath.ToAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
	if err != nil {
		return BadDebt{}, err
	}
	assets := fpmath.Min(m.TotalBorrowAssets, owed)

	m.TotalBorrowAssets = fpmath.ZeroFloorSub(m.TotalBorrowAssets, assets)
	m.TotalSupplyAssets = fpmath.ZeroFloorSub(m.TotalSupplyAssets, assets)
	m.TotalBorrowShares = fpmath.ZeroFloorSub(m.TotalBorrowShares, shares)
	pos.BorrowShares = fpmath.Zero()

	return BadDebt{Shares: shares, Assets: assets}, nil
}
