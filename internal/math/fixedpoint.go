package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("math: uint256 overflow")
	ErrUnderflow      = errors.New("math: uint256 underflow")
	ErrDivisionByZero = errors.New("math: division by zero")
)

// WadDecimals is the precision of LLTVs, fees, rates and incentive factors.
const WadDecimals = 18

// Scale constants. Callers must never use them as a receiver.
var (
	// WAD = 1e18
	WAD = uint256.NewInt(1_000_000_000_000_000_000)

	// OraclePriceScale = 1e36
	OraclePriceScale = new(uint256.Int).Mul(WAD, WAD)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

func (m RoundingMode) String() string {
	if m == RoundUp {
		return "up"
	}
	return "down"
}

// MulDiv returns x*y/d using a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow := q.AddOverflow(q, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}

	return q, nil
}

func MulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, d, RoundDown)
}

func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, d, RoundUp)
}

// WMulDown returns x*y/WAD rounded down.
func WMulDown(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, WAD, RoundDown)
}

// WDivDown returns x*WAD/y rounded down.
func WDivDown(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, WAD, y, RoundDown)
}

// WDivUp returns x*WAD/y rounded up.
func WDivUp(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, WAD, y, RoundUp)
}

// Add returns x+y as a new value.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x-y as a new value and fails instead of wrapping.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// ZeroFloorSub returns max(x-y, 0).
func ZeroFloorSub(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return x.Clone()
	}
	return y.Clone()
}

// ExactlyOneZero reports whether exactly one of x and y is zero.
func ExactlyOneZero(x, y *uint256.Int) bool {
	return isZero(x) != isZero(y)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// OrZero returns x, or a fresh zero when x is nil.
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

// Wad returns n * 10^(18-decimals): Wad(8, 1) is 0.8 expressed at WAD precision.
func Wad(n uint64, decimals uint8) *uint256.Int {
	z := uint256.NewInt(n)
	for i := decimals; i < WadDecimals; i++ {
		z.Mul(z, uint256.NewInt(10))
	}
	return z
}
