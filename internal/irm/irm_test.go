package irm_test

import (
	"testing"

	"BlueLedger/internal/irm"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func market(supply, borrow uint64) state.Market {
	m := state.NewMarket(0)
	m.TotalSupplyAssets = uint256.NewInt(supply)
	m.TotalBorrowAssets = uint256.NewInt(borrow)
	return *m
}

func TestUtilization(t *testing.T) {
	u, err := irm.Utilization(market(0, 0))
	require.NoError(t, err)
	require.True(t, u.IsZero())

	u, err = irm.Utilization(market(100, 50))
	require.NoError(t, err)
	require.Equal(t, fpmath.Wad(5, 1), u)
}

func TestKinked_AnnualRate(t *testing.T) {
	k := irm.DefaultKinked()
	require.NoError(t, k.Validate())

	// 50% utilization: 0.5 * 4% = 2%
	rate, err := k.AnnualRate(fpmath.Wad(5, 1))
	require.NoError(t, err)
	require.Equal(t, fpmath.Wad(2, 2), rate)

	// 90% utilization: 0.8 * 4% + 0.1 * 75% = 10.7%
	rate, err = k.AnnualRate(fpmath.Wad(9, 1))
	require.NoError(t, err)
	require.Equal(t, fpmath.Wad(107, 3), rate)
}

func TestKinked_BorrowRateIsPerSecond(t *testing.T) {
	k := irm.DefaultKinked()
	rate, err := k.BorrowRate(state.MarketParams{}, market(100, 50))
	require.NoError(t, err)
	want := new(uint256.Int).Div(fpmath.Wad(2, 2), uint256.NewInt(irm.SecondsPerYear))
	require.Equal(t, want, rate)
}

func TestKinked_ValidateRejectsZeroKink(t *testing.T) {
	k := irm.DefaultKinked()
	k.Kink = fpmath.Zero()
	require.Error(t, k.Validate())
}

func TestFixed(t *testing.T) {
	f := irm.NewFixedAnnual(fpmath.Wad(1, 1))
	rate, err := f.BorrowRate(state.MarketParams{}, market(0, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000_000_000_000/irm.SecondsPerYear), rate.Uint64())
}
