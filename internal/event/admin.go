package event

import (
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CreateMarket opens a market for the given params
type CreateMarket struct {
	Meta
	Params state.MarketParams `json:"market_params"`
}

func (c *CreateMarket) CommandType() CommandType { return CommandTypeCreateMarket }

func (c *CreateMarket) MarketID() *state.MarketID {
	id := c.Params.ID()
	return &id
}

// EnableRateModel whitelists a rate model address
type EnableRateModel struct {
	Meta
	RateModel common.Address `json:"irm"`
}

func (c *EnableRateModel) CommandType() CommandType  { return CommandTypeEnableRateModel }
func (c *EnableRateModel) MarketID() *state.MarketID { return nil }

// EnableLltv whitelists a liquidation LTV
type EnableLltv struct {
	Meta
	Lltv *uint256.Int `json:"lltv"`
}

func (c *EnableLltv) CommandType() CommandType  { return CommandTypeEnableLltv }
func (c *EnableLltv) MarketID() *state.MarketID { return nil }

// SetOwner transfers registry ownership
type SetOwner struct {
	Meta
	NewOwner common.Address `json:"new_owner"`
}

func (c *SetOwner) CommandType() CommandType  { return CommandTypeSetOwner }
func (c *SetOwner) MarketID() *state.MarketID { return nil }

// SetFee changes a market's protocol fee
type SetFee struct {
	Meta
	Params state.MarketParams `json:"market_params"`
	Fee    *uint256.Int       `json:"fee"`
}

func (c *SetFee) CommandType() CommandType { return CommandTypeSetFee }

func (c *SetFee) MarketID() *state.MarketID {
	id := c.Params.ID()
	return &id
}

// SetFeeRecipient changes the account minted fee shares
type SetFeeRecipient struct {
	Meta
	Recipient common.Address `json:"recipient"`
}

func (c *SetFeeRecipient) CommandType() CommandType  { return CommandTypeSetFeeRecipient }
func (c *SetFeeRecipient) MarketID() *state.MarketID { return nil }

// SetAuthorization grants or revokes a delegate for the caller
type SetAuthorization struct {
	Meta
	Delegate   common.Address `json:"delegate"`
	Authorized bool           `json:"authorized"`
}

func (c *SetAuthorization) CommandType() CommandType  { return CommandTypeSetAuthorization }
func (c *SetAuthorization) MarketID() *state.MarketID { return nil }
