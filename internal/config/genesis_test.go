package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"BlueLedger/internal/config"
	"BlueLedger/internal/core"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sampleGenesis = `
owner = "0x0000000000000000000000000000000000000a01"
price_reporters = ["0x0000000000000000000000000000000000000b01"]
compounding = "linear"
strict_invariants = false
tokens = [
  "0x0000000000000000000000000000000000000c01",
  "0x0000000000000000000000000000000000000c02",
]

[liquidation]
cursor = "0.25"
max_incentive_factor = "1.1"

[[oracles]]
address = "0x0000000000000000000000000000000000000d01"
kind = "fixed"
price = "2000000000000000000000000000000000000000"

[[oracles]]
address = "0x0000000000000000000000000000000000000d02"
kind = "feed"

[[rate_models]]
address = "0x0000000000000000000000000000000000000e01"
kind = "kinked"
base = "0.01"
slope1 = "0.04"
slope2 = "0.75"
kink = "0.9"

[[rate_models]]
address = "0x0000000000000000000000000000000000000e02"
kind = "fixed"
rate = "0.1"
`

func TestParseGenesisOptions(t *testing.T) {
	g, err := config.ParseGenesis(sampleGenesis)
	require.NoError(t, err)

	opts, err := g.Options()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xa01"), opts.Owner)
	require.Equal(t, core.DefaultCustodyAddress, opts.Custody)
	require.Equal(t, []common.Address{common.HexToAddress("0xb01")}, opts.PriceReporters)
	require.Equal(t, fpmath.CompoundingLinear, opts.Compounding)
	require.False(t, opts.StrictInvariants)
	require.Equal(t, "250000000000000000", opts.Liquidation.Cursor.Dec())
	require.Equal(t, "1100000000000000000", opts.Liquidation.MaxIncentiveFactor.Dec())
}

func TestGenesisApplyRegistersOracles(t *testing.T) {
	g, err := config.ParseGenesis(sampleGenesis)
	require.NoError(t, err)
	opts, err := g.Options()
	require.NoError(t, err)

	c := core.NewDeterministicCore(opts, nil, nil, nil, nil)
	require.NoError(t, g.Apply(c))

	price, err := c.Price(state.MarketParams{Oracle: common.HexToAddress("0xd01")})
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000000000000000000000000", price.Dec())

	// Feed oracles have no price until one is reported.
	_, err = c.Price(state.MarketParams{Oracle: common.HexToAddress("0xd02")})
	require.ErrorIs(t, err, state.ErrPriceUnavailable)
}

func TestParseGenesisRejects(t *testing.T) {
	const owner = `owner = "0x0000000000000000000000000000000000000a01"` + "\n"
	tests := []struct {
		name string
		toml string
	}{
		{"missing owner", `tokens = []`},
		{"bad owner", `owner = "alice"`},
		{"unknown key", owner + `fee_recipient = "0x0000000000000000000000000000000000000a02"`},
		{"unknown compounding", owner + `compounding = "continuous"`},
		{"cursor at one", owner + "[liquidation]\ncursor = \"1\""},
		{"incentive below one", owner + "[liquidation]\nmax_incentive_factor = \"0.9\""},
		{"too many decimals", owner + "[liquidation]\ncursor = \"0.0000000000000000001\""},
		{"negative rate", owner + "[[rate_models]]\naddress = \"0x0000000000000000000000000000000000000e01\"\nkind = \"fixed\"\nrate = \"-0.1\""},
		{"kink above one", owner + "[[rate_models]]\naddress = \"0x0000000000000000000000000000000000000e01\"\nkink = \"1.5\""},
		{"unknown rate model kind", owner + "[[rate_models]]\naddress = \"0x0000000000000000000000000000000000000e01\"\nkind = \"adaptive\""},
		{"fixed oracle without price", owner + "[[oracles]]\naddress = \"0x0000000000000000000000000000000000000d01\"\nkind = \"fixed\""},
		{"unknown oracle kind", owner + "[[oracles]]\naddress = \"0x0000000000000000000000000000000000000d01\"\nkind = \"chainlink\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseGenesis(tt.toml)
			require.ErrorIs(t, err, config.ErrInvalidGenesis)
		})
	}
}

func TestLoadGenesisFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGenesis), 0o600))

	g, err := config.LoadGenesis(path)
	require.NoError(t, err)
	require.Len(t, g.Tokens, 2)
	require.Len(t, g.Oracles, 2)
	require.Len(t, g.RateModels, 2)

	_, err = config.LoadGenesis(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
