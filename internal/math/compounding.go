package math

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Compounding selects how a per-second borrow rate is grown over an
// elapsed interval.
type Compounding int32

const (
	// CompoundingTaylor uses the first three terms of the Taylor expansion of e^(rt) - 1.
	CompoundingTaylor Compounding = iota
	// CompoundingLinear uses rt.
	CompoundingLinear
)

func (c Compounding) String() string {
	switch c {
	case CompoundingTaylor:
		return "taylor"
	case CompoundingLinear:
		return "linear"
	default:
		return fmt.Sprintf("Compounding(%d)", int32(c))
	}
}

// ParseCompounding maps a config value onto a Compounding mode.
func ParseCompounding(s string) (Compounding, error) {
	switch s {
	case "", "taylor":
		return CompoundingTaylor, nil
	case "linear":
		return CompoundingLinear, nil
	default:
		return 0, fmt.Errorf("unknown compounding mode %q", s)
	}
}

// Growth returns the WAD-scaled growth factor minus one for rate over elapsed seconds.
func (c Compounding) Growth(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	first, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(elapsed))
	if overflow {
		return nil, ErrOverflow
	}
	if c == CompoundingLinear {
		return first, nil
	}
	return taylorCompounded(first)
}

// WTaylorCompounded approximates e^(x*n) - 1 at WAD precision.
func WTaylorCompounded(x *uint256.Int, n uint64) (*uint256.Int, error) {
	return CompoundingTaylor.Growth(x, n)
}

func taylorCompounded(first *uint256.Int) (*uint256.Int, error) {
	twoWad := new(uint256.Int).Mul(WAD, uint256.NewInt(2))
	threeWad := new(uint256.Int).Mul(WAD, uint256.NewInt(3))

	second, err := MulDivDown(first, first, twoWad)
	if err != nil {
		return nil, err
	}
	third, err := MulDivDown(second, first, threeWad)
	if err != nil {
		return nil, err
	}

	sum, err := Add(first, second)
	if err != nil {
		return nil, err
	}
	return Add(sum, third)
}
