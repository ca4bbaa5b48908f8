package core

import (
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCustodyAddress is the account holding every token the ledger
// custodies when Options.Custody is unset.
var DefaultCustodyAddress = common.HexToAddress("0x00000000000000000000000000000000b1de0001")

// Options configure a DeterministicCore.
type Options struct {
	// Owner is the initial registry owner.
	Owner common.Address

	// Custody is the account the ledger's own token balances live under.
	Custody common.Address

	// Tokens overrides the custody book as token implementation.
	Tokens TokenDirectory

	// PriceReporters may publish feed prices. Empty means anyone.
	PriceReporters []common.Address

	Compounding fpmath.Compounding
	Liquidation state.LiquidationParams

	// IdempotencyCapacity bounds the in-memory dedup tier.
	IdempotencyCapacity int

	// StrictInvariants re-derives share totals from positions after every
	// command. It costs a scan of each touched market's positions.
	StrictInvariants bool
}

func DefaultOptions() Options {
	return Options{
		Custody:             DefaultCustodyAddress,
		Compounding:         fpmath.CompoundingTaylor,
		Liquidation:         state.DefaultLiquidationParams(),
		IdempotencyCapacity: 1_000_000,
		StrictInvariants:    true,
	}
}
