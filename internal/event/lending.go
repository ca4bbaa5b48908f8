package event

import (
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func marketIDOf(p state.MarketParams) *state.MarketID {
	id := p.ID()
	return &id
}

// AccrueInterest brings a market's totals up to the command timestamp
type AccrueInterest struct {
	Meta
	Params state.MarketParams `json:"market_params"`
}

func (c *AccrueInterest) CommandType() CommandType  { return CommandTypeAccrueInterest }
func (c *AccrueInterest) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// Supply lends loan tokens. Exactly one of Assets and Shares is non-zero.
type Supply struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	Shares   *uint256.Int       `json:"shares"`
	OnBehalf common.Address     `json:"on_behalf"`
	Data     []byte             `json:"data,omitempty"`
	Callback Callback           `json:"-"`
}

func (c *Supply) CommandType() CommandType  { return CommandTypeSupply }
func (c *Supply) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// Withdraw redeems supply shares for loan tokens
type Withdraw struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	Shares   *uint256.Int       `json:"shares"`
	OnBehalf common.Address     `json:"on_behalf"`
	Receiver common.Address     `json:"receiver"`
}

func (c *Withdraw) CommandType() CommandType  { return CommandTypeWithdraw }
func (c *Withdraw) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// Borrow takes loan tokens against collateral
type Borrow struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	Shares   *uint256.Int       `json:"shares"`
	OnBehalf common.Address     `json:"on_behalf"`
	Receiver common.Address     `json:"receiver"`
}

func (c *Borrow) CommandType() CommandType  { return CommandTypeBorrow }
func (c *Borrow) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// Repay returns loan tokens and burns borrow shares
type Repay struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	Shares   *uint256.Int       `json:"shares"`
	OnBehalf common.Address     `json:"on_behalf"`
	Data     []byte             `json:"data,omitempty"`
	Callback Callback           `json:"-"`
}

func (c *Repay) CommandType() CommandType  { return CommandTypeRepay }
func (c *Repay) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// SupplyCollateral deposits collateral tokens
type SupplyCollateral struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	OnBehalf common.Address     `json:"on_behalf"`
	Data     []byte             `json:"data,omitempty"`
	Callback Callback           `json:"-"`
}

func (c *SupplyCollateral) CommandType() CommandType  { return CommandTypeSupplyCollateral }
func (c *SupplyCollateral) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// WithdrawCollateral releases collateral tokens
type WithdrawCollateral struct {
	Meta
	Params   state.MarketParams `json:"market_params"`
	Assets   *uint256.Int       `json:"assets"`
	OnBehalf common.Address     `json:"on_behalf"`
	Receiver common.Address     `json:"receiver"`
}

func (c *WithdrawCollateral) CommandType() CommandType  { return CommandTypeWithdrawCollateral }
func (c *WithdrawCollateral) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// Liquidate repays an unhealthy borrower's debt for discounted collateral.
// Exactly one of SeizedAssets and RepaidShares is non-zero.
type Liquidate struct {
	Meta
	Params       state.MarketParams `json:"market_params"`
	Borrower     common.Address     `json:"borrower"`
	SeizedAssets *uint256.Int       `json:"seized_assets"`
	RepaidShares *uint256.Int       `json:"repaid_shares"`
	Data         []byte             `json:"data,omitempty"`
	Callback     Callback           `json:"-"`
}

func (c *Liquidate) CommandType() CommandType  { return CommandTypeLiquidate }
func (c *Liquidate) MarketID() *state.MarketID { return marketIDOf(c.Params) }

// FlashLoan lends any held token for the duration of Callback
type FlashLoan struct {
	Meta
	Token    common.Address `json:"token"`
	Assets   *uint256.Int   `json:"assets"`
	Data     []byte         `json:"data,omitempty"`
	Callback Callback       `json:"-"`
}

func (c *FlashLoan) CommandType() CommandType  { return CommandTypeFlashLoan }
func (c *FlashLoan) MarketID() *state.MarketID { return nil }
