package state

import (
	fpmath "BlueLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is one user's stake in one market.
type Position struct {
	SupplyShares *uint256.Int `json:"supply_shares"`
	BorrowShares *uint256.Int `json:"borrow_shares"`
	Collateral   *uint256.Int `json:"collateral"`
}

func NewPosition() *Position {
	return &Position{
		SupplyShares: fpmath.Zero(),
		BorrowShares: fpmath.Zero(),
		Collateral:   fpmath.Zero(),
	}
}

func (p *Position) Clone() *Position {
	return &Position{
		SupplyShares: p.SupplyShares.Clone(),
		BorrowShares: p.BorrowShares.Clone(),
		Collateral:   p.Collateral.Clone(),
	}
}

// IsEmpty returns true if the position holds nothing
func (p *Position) IsEmpty() bool {
	return p.SupplyShares.IsZero() && p.BorrowShares.IsZero() && p.Collateral.IsZero()
}

// HasDebt returns true if the position owes borrow shares
func (p *Position) HasDebt() bool {
	return !p.BorrowShares.IsZero()
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes(key PositionKey) []byte {
	buf := make([]byte, 0, 148)
	buf = append(buf, key.Market[:]...)
	buf = append(buf, key.User[:]...)
	for _, v := range []*uint256.Int{p.SupplyShares, p.BorrowShares, p.Collateral} {
		word := v.Bytes32()
		buf = append(buf, word[:]...)
	}
	return buf
}

type PositionKey struct {
	Market MarketID       `json:"market_id"`
	User   common.Address `json:"user"`
}
