package math

import "github.com/holiman/uint256"

// Virtual offsets applied to every share conversion so the first depositor
// cannot inflate the exchange rate.
const (
	VirtualShares = 1_000_000
	VirtualAssets = 1
)

// ToShares converts assets to shares at assets * (totalShares + 1e6) / (totalAssets + 1).
func ToShares(assets, totalAssets, totalShares *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	shares, err := Add(totalShares, uint256.NewInt(VirtualShares))
	if err != nil {
		return nil, err
	}
	base, err := Add(totalAssets, uint256.NewInt(VirtualAssets))
	if err != nil {
		return nil, err
	}
	return MulDiv(assets, shares, base, mode)
}

// ToAssets converts shares to assets at shares * (totalAssets + 1) / (totalShares + 1e6).
func ToAssets(shares, totalAssets, totalShares *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	assets, err := Add(totalAssets, uint256.NewInt(VirtualAssets))
	if err != nil {
		return nil, err
	}
	base, err := Add(totalShares, uint256.NewInt(VirtualShares))
	if err != nil {
		return nil, err
	}
	return MulDiv(shares, assets, base, mode)
}

func ToSharesDown(assets, totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	return ToShares(assets, totalAssets, totalShares, RoundDown)
}

func ToSharesUp(assets, totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	return ToShares(assets, totalAssets, totalShares, RoundUp)
}

func ToAssetsDown(shares, totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	return ToAssets(shares, totalAssets, totalShares, RoundDown)
}

func ToAssetsUp(shares, totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	return ToAssets(shares, totalAssets, totalShares, RoundUp)
}
