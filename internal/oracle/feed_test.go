package oracle_test

import (
	"testing"

	"BlueLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var feedAddr = common.HexToAddress("0x0000000000000000000000000000000000000fee")

func TestFeed_UpdateAndRead(t *testing.T) {
	f := oracle.NewFeed()
	src := f.Source(feedAddr)

	_, err := src.Price()
	require.ErrorIs(t, err, oracle.ErrNoPrice)

	prev, applied := f.Update(feedAddr, uint256.NewInt(100), 1)
	require.True(t, applied)
	require.Nil(t, prev)

	price, err := src.Price()
	require.NoError(t, err)
	require.Equal(t, uint64(100), price.Uint64())
}

func TestFeed_StaleIgnoredGapAccepted(t *testing.T) {
	f := oracle.NewFeed()
	f.Update(feedAddr, uint256.NewInt(100), 5)

	_, applied := f.Update(feedAddr, uint256.NewInt(90), 5)
	require.False(t, applied)
	_, applied = f.Update(feedAddr, uint256.NewInt(90), 3)
	require.False(t, applied)

	prev, applied := f.Update(feedAddr, uint256.NewInt(120), 9)
	require.True(t, applied)
	require.Equal(t, int64(5), prev.Sequence)

	ps, ok := f.Latest(feedAddr)
	require.True(t, ok)
	require.Equal(t, uint64(120), ps.Price.Uint64())
}

func TestFeed_Restore(t *testing.T) {
	f := oracle.NewFeed()
	prev, _ := f.Update(feedAddr, uint256.NewInt(100), 1)
	f.Restore(feedAddr, prev)
	_, ok := f.Latest(feedAddr)
	require.False(t, ok)
	require.Empty(t, f.Oracles())
}

func TestFixed(t *testing.T) {
	o := oracle.NewFixed(uint256.NewInt(7))
	o.SetPrice(uint256.NewInt(8))
	price, err := o.Price()
	require.NoError(t, err)
	require.Equal(t, uint64(8), price.Uint64())
}
