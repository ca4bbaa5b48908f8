package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"BlueLedger/internal/core"
	"BlueLedger/internal/irm"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/oracle"
	"BlueLedger/internal/state"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var ErrInvalidGenesis = errors.New("config: invalid genesis")

// Genesis is the ledger configuration every replica must share: who owns
// the registry, which tokens are custodied and which oracle and rate model
// implementations stand behind which addresses. Rates and factors are
// decimal fractions ("0.04" is 4%); prices are integers scaled by 1e36.
type Genesis struct {
	Owner            string   `toml:"owner"`
	Custody          string   `toml:"custody"`
	PriceReporters   []string `toml:"price_reporters"`
	Compounding      string   `toml:"compounding"`
	StrictInvariants *bool    `toml:"strict_invariants"`
	Tokens           []string `toml:"tokens"`

	Liquidation LiquidationGenesis `toml:"liquidation"`
	Oracles     []OracleGenesis    `toml:"oracles"`
	RateModels  []RateModelGenesis `toml:"rate_models"`
}

type LiquidationGenesis struct {
	Cursor             string `toml:"cursor"`
	MaxIncentiveFactor string `toml:"max_incentive_factor"`
}

// OracleGenesis binds an oracle address. Kind "fixed" quotes Price
// forever; kind "feed" reads price_update commands.
type OracleGenesis struct {
	Address string `toml:"address"`
	Kind    string `toml:"kind"`
	Price   string `toml:"price"`
}

// RateModelGenesis binds a rate model address. Kind "kinked" uses
// Base, Slope1, Slope2 and Kink; kind "fixed" uses Rate.
type RateModelGenesis struct {
	Address string `toml:"address"`
	Kind    string `toml:"kind"`
	Rate    string `toml:"rate"`
	Base    string `toml:"base"`
	Slope1  string `toml:"slope1"`
	Slope2  string `toml:"slope2"`
	Kink    string `toml:"kink"`
}

// LoadGenesis decodes a genesis file. Unknown keys are rejected.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(string(data))
}

// ParseGenesis decodes genesis TOML.
func ParseGenesis(data string) (*Genesis, error) {
	g := &Genesis{}
	meta, err := toml.Decode(data, g)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidGenesis, strings.Join(keys, ", "))
	}
	if _, err := g.Options(); err != nil {
		return nil, err
	}
	return g, nil
}

// Options builds core options from the genesis.
func (g *Genesis) Options() (core.Options, error) {
	opts := core.DefaultOptions()

	owner, err := parseAddress("owner", g.Owner)
	if err != nil {
		return opts, err
	}
	opts.Owner = owner

	if g.Custody != "" {
		if opts.Custody, err = parseAddress("custody", g.Custody); err != nil {
			return opts, err
		}
	}
	for i, r := range g.PriceReporters {
		addr, err := parseAddress(fmt.Sprintf("price_reporters[%d]", i), r)
		if err != nil {
			return opts, err
		}
		opts.PriceReporters = append(opts.PriceReporters, addr)
	}
	if opts.Compounding, err = fpmath.ParseCompounding(g.Compounding); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}
	if g.StrictInvariants != nil {
		opts.StrictInvariants = *g.StrictInvariants
	}

	if g.Liquidation.Cursor != "" || g.Liquidation.MaxIncentiveFactor != "" {
		lp := state.DefaultLiquidationParams()
		if g.Liquidation.Cursor != "" {
			if lp.Cursor, err = parseWad("liquidation.cursor", g.Liquidation.Cursor); err != nil {
				return opts, err
			}
		}
		if g.Liquidation.MaxIncentiveFactor != "" {
			if lp.MaxIncentiveFactor, err = parseWad("liquidation.max_incentive_factor", g.Liquidation.MaxIncentiveFactor); err != nil {
				return opts, err
			}
		}
		if err := lp.Validate(); err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
		}
		opts.Liquidation = lp
	}

	for i, t := range g.Tokens {
		if _, err := parseAddress(fmt.Sprintf("tokens[%d]", i), t); err != nil {
			return opts, err
		}
	}
	for _, o := range g.Oracles {
		if _, err := o.build(); err != nil {
			return opts, err
		}
	}
	for _, rm := range g.RateModels {
		if _, err := rm.build(); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// Apply lists tokens and registers oracles and rate models on c. It must
// run before recovery so replayed commands see the same collaborators.
func (g *Genesis) Apply(c *core.DeterministicCore) error {
	for _, t := range g.Tokens {
		c.ListToken(common.HexToAddress(t))
	}
	for _, o := range g.Oracles {
		impl, err := o.build()
		if err != nil {
			return err
		}
		addr := common.HexToAddress(o.Address)
		if impl == nil {
			impl = c.Feed().Source(addr)
		}
		c.RegisterOracle(addr, impl)
	}
	for _, rm := range g.RateModels {
		impl, err := rm.build()
		if err != nil {
			return err
		}
		c.RegisterRateModel(common.HexToAddress(rm.Address), impl)
	}
	return nil
}

// build returns the oracle implementation; feed oracles return nil and are
// bound to the core's feed by Apply.
func (o OracleGenesis) build() (core.Oracle, error) {
	if _, err := parseAddress("oracles.address", o.Address); err != nil {
		return nil, err
	}
	switch o.Kind {
	case "", "feed":
		return nil, nil
	case "fixed":
		price, err := parseAmount("oracles.price", o.Price)
		if err != nil {
			return nil, err
		}
		return oracle.NewFixed(price), nil
	}
	return nil, fmt.Errorf("%w: oracle %s has unknown kind %q", ErrInvalidGenesis, o.Address, o.Kind)
}

func (rm RateModelGenesis) build() (core.RateModel, error) {
	if _, err := parseAddress("rate_models.address", rm.Address); err != nil {
		return nil, err
	}
	switch rm.Kind {
	case "fixed":
		rate, err := parseWad("rate_models.rate", rm.Rate)
		if err != nil {
			return nil, err
		}
		return irm.NewFixedAnnual(rate), nil
	case "", "kinked":
		k := irm.DefaultKinked()
		fields := []struct {
			name string
			raw  string
			dst  **uint256.Int
		}{
			{"rate_models.base", rm.Base, &k.Base},
			{"rate_models.slope1", rm.Slope1, &k.Slope1},
			{"rate_models.slope2", rm.Slope2, &k.Slope2},
			{"rate_models.kink", rm.Kink, &k.Kink},
		}
		for _, f := range fields {
			if f.raw == "" {
				continue
			}
			v, err := parseWad(f.name, f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
		}
		return k, nil
	}
	return nil, fmt.Errorf("%w: rate model %s has unknown kind %q", ErrInvalidGenesis, rm.Address, rm.Kind)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address: %q", ErrInvalidGenesis, field, s)
	}
	return common.HexToAddress(s), nil
}

// parseWad converts a decimal fraction into a WAD-scaled integer.
func parseWad(field, s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGenesis, field, err)
	}
	scaled := d.Shift(fpmath.WadDecimals)
	if !scaled.Equal(scaled.Truncate(0)) || scaled.IsNegative() {
		return nil, fmt.Errorf("%w: %s must be non-negative with at most %d decimals, got %s", ErrInvalidGenesis, field, fpmath.WadDecimals, s)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows", ErrInvalidGenesis, field)
	}
	return v, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGenesis, field, err)
	}
	return v, nil
}
