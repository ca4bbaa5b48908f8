package state

import (
	fpmath "BlueLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MaxFee caps the protocol's share of interest at 25%.
var MaxFee = fpmath.Wad(25, 2)

// MarketID is the keccak256 of the ABI encoding of a market's parameters.
type MarketID = common.Hash

// MarketParams are the immutable parameters that define a market.
type MarketParams struct {
	LoanToken       common.Address `json:"loan_token"`
	CollateralToken common.Address `json:"collateral_token"`
	Oracle          common.Address `json:"oracle"`
	RateModel       common.Address `json:"irm"`
	Lltv            *uint256.Int   `json:"lltv"`
}

// Encode returns the five 32-byte words hashed into the market id.
func (p MarketParams) Encode() []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, common.LeftPadBytes(p.LoanToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.CollateralToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.Oracle.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(p.RateModel.Bytes(), 32)...)
	lltv := fpmath.OrZero(p.Lltv).Bytes32()
	buf = append(buf, lltv[:]...)
	return buf
}

// ID derives the market id. Equal params always map to the same id.
func (p MarketParams) ID() MarketID {
	return crypto.Keccak256Hash(p.Encode())
}

// Market is the mutable per-market state. Amounts are in loan-token units.
type Market struct {
	TotalSupplyAssets *uint256.Int `json:"total_supply_assets"`
	TotalSupplyShares *uint256.Int `json:"total_supply_shares"`
	TotalBorrowAssets *uint256.Int `json:"total_borrow_assets"`
	TotalBorrowShares *uint256.Int `json:"total_borrow_shares"`
	LastUpdate        uint64       `json:"last_update"`
	Fee               *uint256.Int `json:"fee"`
}

func NewMarket(lastUpdate uint64) *Market {
	return &Market{
		TotalSupplyAssets: fpmath.Zero(),
		TotalSupplyShares: fpmath.Zero(),
		TotalBorrowAssets: fpmath.Zero(),
		TotalBorrowShares: fpmath.Zero(),
		LastUpdate:        lastUpdate,
		Fee:               fpmath.Zero(),
	}
}

func (m *Market) Clone() *Market {
	return &Market{
		TotalSupplyAssets: m.TotalSupplyAssets.Clone(),
		TotalSupplyShares: m.TotalSupplyShares.Clone(),
		TotalBorrowAssets: m.TotalBorrowAssets.Clone(),
		TotalBorrowShares: m.TotalBorrowShares.Clone(),
		LastUpdate:        m.LastUpdate,
		Fee:               m.Fee.Clone(),
	}
}

// Liquidity returns the loan tokens available to borrowers and withdrawers.
func (m *Market) Liquidity() *uint256.Int {
	return fpmath.ZeroFloorSub(m.TotalSupplyAssets, m.TotalBorrowAssets)
}

// IsSolvent reports whether borrows are covered by supply.
func (m *Market) IsSolvent() bool {
	return m.TotalBorrowAssets.Cmp(m.TotalSupplyAssets) <= 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (m *Market) CanonicalBytes() []byte {
	buf := make([]byte, 0, 168)
	for _, v := range []*uint256.Int{m.TotalSupplyAssets, m.TotalSupplyShares, m.TotalBorrowAssets, m.TotalBorrowShares} {
		word := v.Bytes32()
		buf = append(buf, word[:]...)
	}
	buf = appendUint64LE(buf, m.LastUpdate)
	fee := m.Fee.Bytes32()
	return append(buf, fee[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
