package math_test

import (
	"testing"

	"BlueLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_Rounding(t *testing.T) {
	down, err := math.MulDivDown(u(10), u(1), u(3))
	require.NoError(t, err)
	require.Equal(t, uint64(3), down.Uint64())

	up, err := math.MulDivUp(u(10), u(1), u(3))
	require.NoError(t, err)
	require.Equal(t, uint64(4), up.Uint64())

	exact, err := math.MulDivUp(u(9), u(1), u(3))
	require.NoError(t, err)
	require.Equal(t, uint64(3), exact.Uint64())
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// (2^255 * 4) / 8 does not fit 256 bits before the division.
	x := new(uint256.Int).Lsh(u(1), 255)
	got, err := math.MulDivDown(x, u(4), u(8))
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Lsh(u(1), 254), got)
}

func TestMulDiv_Errors(t *testing.T) {
	_, err := math.MulDivDown(u(1), u(1), u(0))
	require.ErrorIs(t, err, math.ErrDivisionByZero)

	max := new(uint256.Int).SetAllOne()
	_, err = math.MulDivDown(max, max, u(1))
	require.ErrorIs(t, err, math.ErrOverflow)
}

func TestWadHelpers(t *testing.T) {
	half := math.Wad(5, 1)
	got, err := math.WMulDown(u(1000), half)
	require.NoError(t, err)
	require.Equal(t, uint64(500), got.Uint64())

	got, err = math.WDivDown(u(1000), half)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), got.Uint64())

	got, err = math.WDivUp(u(1), math.Wad(3, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Uint64())

	require.Equal(t, uint64(800_000_000_000_000_000), math.Wad(8, 1).Uint64())
}

func TestZeroFloorSub(t *testing.T) {
	require.True(t, math.ZeroFloorSub(u(3), u(5)).IsZero())
	require.Equal(t, uint64(2), math.ZeroFloorSub(u(5), u(3)).Uint64())
}

func TestSub_Underflow(t *testing.T) {
	_, err := math.Sub(u(1), u(2))
	require.ErrorIs(t, err, math.ErrUnderflow)
}

func TestExactlyOneZero(t *testing.T) {
	require.True(t, math.ExactlyOneZero(u(0), u(1)))
	require.True(t, math.ExactlyOneZero(u(1), nil))
	require.False(t, math.ExactlyOneZero(u(0), u(0)))
	require.False(t, math.ExactlyOneZero(u(1), u(1)))
}

// ============================================================================
// Test: share conversion
// ============================================================================

func TestToShares_EmptyMarket(t *testing.T) {
	shares, err := math.ToSharesDown(u(100), u(0), u(0))
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), shares.Uint64())
}

func TestToAssets_RoundTrip(t *testing.T) {
	assets, err := math.ToAssetsDown(u(100_000_000), u(100), u(100_000_000))
	require.NoError(t, err)
	require.Equal(t, uint64(100), assets.Uint64())
}

func TestShareRounding_FavorsProtocol(t *testing.T) {
	// Exchange rate after interest: 150 assets backing 100e6 shares.
	totalAssets, totalShares := u(150), u(100_000_000)

	down, err := math.ToSharesDown(u(1), totalAssets, totalShares)
	require.NoError(t, err)
	up, err := math.ToSharesUp(u(1), totalAssets, totalShares)
	require.NoError(t, err)
	require.Equal(t, uint64(1), new(uint256.Int).Sub(up, down).Uint64())

	// Converting the shares minted for 7 assets back never yields more than 7.
	minted, err := math.ToSharesDown(u(7), totalAssets, totalShares)
	require.NoError(t, err)
	back, err := math.ToAssetsDown(minted, totalAssets, totalShares)
	require.NoError(t, err)
	require.LessOrEqual(t, back.Uint64(), uint64(7))
}

// ============================================================================
// Test: compounding
// ============================================================================

func TestTaylorCompounded(t *testing.T) {
	got, err := math.WTaylorCompounded(math.WAD, 1)
	require.NoError(t, err)
	require.Equal(t, "1666666666666666666", got.Dec())
}

func TestLinearCompounding(t *testing.T) {
	got, err := math.CompoundingLinear.Growth(u(3), 10)
	require.NoError(t, err)
	require.Equal(t, uint64(30), got.Uint64())
}

func TestTaylorCompounded_ZeroElapsed(t *testing.T) {
	got, err := math.WTaylorCompounded(math.WAD, 0)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestParseCompounding(t *testing.T) {
	c, err := math.ParseCompounding("linear")
	require.NoError(t, err)
	require.Equal(t, math.CompoundingLinear, c)

	c, err = math.ParseCompounding("")
	require.NoError(t, err)
	require.Equal(t, math.CompoundingTaylor, c)

	_, err = math.ParseCompounding("exp")
	require.Error(t, err)
}
