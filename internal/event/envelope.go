package event

import (
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeCreateMarket
	CommandTypeEnableRateModel
	CommandTypeEnableLltv
	CommandTypeSetOwner
	CommandTypeSetFee
	CommandTypeSetFeeRecipient
	CommandTypeSetAuthorization
	CommandTypeAccrueInterest
	CommandTypeSupply
	CommandTypeWithdraw
	CommandTypeBorrow
	CommandTypeRepay
	CommandTypeSupplyCollateral
	CommandTypeWithdrawCollateral
	CommandTypeLiquidate
	CommandTypeFlashLoan
	CommandTypeTokenDeposit
	CommandTypeTokenWithdrawal
	CommandTypeTokenApprove
	CommandTypePriceUpdate
)

var commandTypeNames = map[CommandType]string{
	CommandTypeCreateMarket:       "create_market",
	CommandTypeEnableRateModel:    "enable_irm",
	CommandTypeEnableLltv:         "enable_lltv",
	CommandTypeSetOwner:           "set_owner",
	CommandTypeSetFee:             "set_fee",
	CommandTypeSetFeeRecipient:    "set_fee_recipient",
	CommandTypeSetAuthorization:   "set_authorization",
	CommandTypeAccrueInterest:     "accrue_interest",
	CommandTypeSupply:             "supply",
	CommandTypeWithdraw:           "withdraw",
	CommandTypeBorrow:             "borrow",
	CommandTypeRepay:              "repay",
	CommandTypeSupplyCollateral:   "supply_collateral",
	CommandTypeWithdrawCollateral: "withdraw_collateral",
	CommandTypeLiquidate:          "liquidate",
	CommandTypeFlashLoan:          "flash_loan",
	CommandTypeTokenDeposit:       "token_deposit",
	CommandTypeTokenWithdrawal:    "token_withdrawal",
	CommandTypeTokenApprove:       "token_approve",
	CommandTypePriceUpdate:        "price_update",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType is the inverse of String
func ParseCommandType(name string) CommandType {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct
		}
	}
	return CommandTypeUnknown
}

// CommandTypes returns every known command type in declaration order
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeCreateMarket; ct <= CommandTypePriceUpdate; ct++ {
		out = append(out, ct)
	}
	return out
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	CommandType CommandType

	// Market context (nil for global commands)
	MarketID *state.MarketID

	// Block timestamp carried by the command (NOT wall-clock)
	Timestamp uint64

	Caller common.Address

	// Upstream ordering: partition and sequence within it
	Source         string
	SourceSequence int64

	// JSON-encoded command, replayable through ParseCommand
	Payload []byte

	// JSON-encoded records emitted by the command
	Records []byte

	// Rejected commands consume a sequence but leave state untouched
	Rejected bool
	Error    string

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// MarketID returns the market context (nil for global commands)
	MarketID() *state.MarketID

	// Partition names the sequence space SourceSequence belongs to
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// BlockTime returns the command's timestamp in unix seconds
	BlockTime() uint64

	// Sender returns the account issuing the command
	Sender() common.Address
}

// Meta carries the fields every command shares.
type Meta struct {
	Key    string         `json:"idempotency_key"`
	Source string         `json:"source,omitempty"`
	Seq    int64          `json:"source_sequence"`
	Time   uint64         `json:"timestamp"`
	Caller common.Address `json:"caller"`
}

// GlobalPartition is used by commands without a Source.
const GlobalPartition = "global"

func (m *Meta) IdempotencyKey() string { return m.Key }
func (m *Meta) SourceSequence() int64  { return m.Seq }
func (m *Meta) BlockTime() uint64      { return m.Time }
func (m *Meta) Sender() common.Address { return m.Caller }

func (m *Meta) Partition() string {
	if m.Source == "" {
		return GlobalPartition
	}
	return m.Source
}

// Callback is invoked by supply, repay, supplyCollateral, liquidate and
// flash loans before tokens are pulled from the caller. An error aborts
// the whole command. Callbacks are in-process only and never serialized.
type Callback func(assets *uint256.Int, data []byte) error
