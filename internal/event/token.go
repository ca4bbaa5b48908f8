package event

import (
	"fmt"
	"strings"

	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenDeposit credits Account with tokens bridged in from outside the ledger
type TokenDeposit struct {
	Meta
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *TokenDeposit) CommandType() CommandType  { return CommandTypeTokenDeposit }
func (c *TokenDeposit) MarketID() *state.MarketID { return nil }

// TokenWithdrawal sends the caller's tokens out of the ledger
type TokenWithdrawal struct {
	Meta
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *TokenWithdrawal) CommandType() CommandType  { return CommandTypeTokenWithdrawal }
func (c *TokenWithdrawal) MarketID() *state.MarketID { return nil }

// TokenApprove lets Spender pull the caller's tokens
type TokenApprove struct {
	Meta
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *TokenApprove) CommandType() CommandType  { return CommandTypeTokenApprove }
func (c *TokenApprove) MarketID() *state.MarketID { return nil }

// PriceUpdate publishes a new price for an oracle feed. Prices are scaled
// by 1e36 and ordered by PriceSequence per oracle.
type PriceUpdate struct {
	Meta
	Oracle        common.Address `json:"oracle"`
	Price         *uint256.Int   `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
}

func (p *PriceUpdate) IdempotencyKey() string {
	if p.Key != "" {
		return p.Key
	}
	return fmt.Sprintf("%s:price:%d", strings.ToLower(p.Oracle.Hex()), p.PriceSequence)
}

func (p *PriceUpdate) CommandType() CommandType  { return CommandTypePriceUpdate }
func (p *PriceUpdate) MarketID() *state.MarketID { return nil }
func (p *PriceUpdate) SourceSequence() int64     { return p.PriceSequence }
func (p *PriceUpdate) Partition() string         { return "oracle:" + strings.ToLower(p.Oracle.Hex()) }
