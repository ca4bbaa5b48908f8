package event

import (
	"encoding/json"
	"fmt"

	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RecordType names what a record reports. Values double as NATS subject tokens.
type RecordType string

const (
	RecordMarketCreated       RecordType = "market_created"
	RecordRateModelEnabled    RecordType = "irm_enabled"
	RecordLltvEnabled         RecordType = "lltv_enabled"
	RecordOwnerSet            RecordType = "owner_set"
	RecordFeeSet              RecordType = "fee_set"
	RecordFeeRecipientSet     RecordType = "fee_recipient_set"
	RecordAuthorizationSet    RecordType = "authorization_set"
	RecordInterestAccrued     RecordType = "interest_accrued"
	RecordSupplied            RecordType = "supplied"
	RecordWithdrawn           RecordType = "withdrawn"
	RecordBorrowed            RecordType = "borrowed"
	RecordRepaid              RecordType = "repaid"
	RecordCollateralSupplied  RecordType = "collateral_supplied"
	RecordCollateralWithdrawn RecordType = "collateral_withdrawn"
	RecordLiquidated          RecordType = "liquidated"
	RecordFlashLoaned         RecordType = "flash_loaned"
	RecordTokenDeposited      RecordType = "token_deposited"
	RecordTokenWithdrawn      RecordType = "token_withdrawn"
	RecordTokenApproved       RecordType = "token_approved"
	RecordPriceUpdated        RecordType = "price_updated"
)

// Record is a structured report of one successful state change.
type Record interface {
	RecordType() RecordType
	Market() *state.MarketID
}

type MarketCreated struct {
	ID     state.MarketID     `json:"market_id"`
	Params state.MarketParams `json:"market_params"`
}

type RateModelEnabled struct {
	RateModel common.Address `json:"irm"`
}

type LltvEnabled struct {
	Lltv *uint256.Int `json:"lltv"`
}

type OwnerSet struct {
	Owner common.Address `json:"owner"`
}

type FeeSet struct {
	ID  state.MarketID `json:"market_id"`
	Fee *uint256.Int   `json:"fee"`
}

type FeeRecipientSet struct {
	Recipient common.Address `json:"recipient"`
}

type AuthorizationSet struct {
	Authorizer common.Address `json:"authorizer"`
	Delegate   common.Address `json:"delegate"`
	Authorized bool           `json:"authorized"`
}

type InterestAccrued struct {
	ID         state.MarketID `json:"market_id"`
	BorrowRate *uint256.Int   `json:"borrow_rate"`
	Interest   *uint256.Int   `json:"interest"`
	FeeShares  *uint256.Int   `json:"fee_shares"`
	Elapsed    uint64         `json:"elapsed"`
}

type Supplied struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Assets   *uint256.Int   `json:"assets"`
	Shares   *uint256.Int   `json:"shares"`
}

type Withdrawn struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Receiver common.Address `json:"receiver"`
	Assets   *uint256.Int   `json:"assets"`
	Shares   *uint256.Int   `json:"shares"`
}

type Borrowed struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Receiver common.Address `json:"receiver"`
	Assets   *uint256.Int   `json:"assets"`
	Shares   *uint256.Int   `json:"shares"`
}

type Repaid struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Assets   *uint256.Int   `json:"assets"`
	Shares   *uint256.Int   `json:"shares"`
}

type CollateralSupplied struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Assets   *uint256.Int   `json:"assets"`
}

type CollateralWithdrawn struct {
	ID       state.MarketID `json:"market_id"`
	Caller   common.Address `json:"caller"`
	OnBehalf common.Address `json:"on_behalf"`
	Receiver common.Address `json:"receiver"`
	Assets   *uint256.Int   `json:"assets"`
}

type Liquidated struct {
	ID            state.MarketID `json:"market_id"`
	Caller        common.Address `json:"caller"`
	Borrower      common.Address `json:"borrower"`
	RepaidAssets  *uint256.Int   `json:"repaid_assets"`
	RepaidShares  *uint256.Int   `json:"repaid_shares"`
	SeizedAssets  *uint256.Int   `json:"seized_assets"`
	BadDebtAssets *uint256.Int   `json:"bad_debt_assets"`
	BadDebtShares *uint256.Int   `json:"bad_debt_shares"`
}

type FlashLoaned struct {
	Caller common.Address `json:"caller"`
	Token  common.Address `json:"token"`
	Assets *uint256.Int   `json:"assets"`
}

type TokenDeposited struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

type TokenWithdrawn struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

type TokenApproved struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

type PriceUpdated struct {
	Oracle        common.Address `json:"oracle"`
	Price         *uint256.Int   `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
}

func (r *MarketCreated) RecordType() RecordType       { return RecordMarketCreated }
func (r *RateModelEnabled) RecordType() RecordType    { return RecordRateModelEnabled }
func (r *LltvEnabled) RecordType() RecordType         { return RecordLltvEnabled }
func (r *OwnerSet) RecordType() RecordType            { return RecordOwnerSet }
func (r *FeeSet) RecordType() RecordType              { return RecordFeeSet }
func (r *FeeRecipientSet) RecordType() RecordType     { return RecordFeeRecipientSet }
func (r *AuthorizationSet) RecordType() RecordType    { return RecordAuthorizationSet }
func (r *InterestAccrued) RecordType() RecordType     { return RecordInterestAccrued }
func (r *Supplied) RecordType() RecordType            { return RecordSupplied }
func (r *Withdrawn) RecordType() RecordType           { return RecordWithdrawn }
func (r *Borrowed) RecordType() RecordType            { return RecordBorrowed }
func (r *Repaid) RecordType() RecordType              { return RecordRepaid }
func (r *CollateralSupplied) RecordType() RecordType  { return RecordCollateralSupplied }
func (r *CollateralWithdrawn) RecordType() RecordType { return RecordCollateralWithdrawn }
func (r *Liquidated) RecordType() RecordType          { return RecordLiquidated }
func (r *FlashLoaned) RecordType() RecordType         { return RecordFlashLoaned }
func (r *TokenDeposited) RecordType() RecordType      { return RecordTokenDeposited }
func (r *TokenWithdrawn) RecordType() RecordType      { return RecordTokenWithdrawn }
func (r *TokenApproved) RecordType() RecordType       { return RecordTokenApproved }
func (r *PriceUpdated) RecordType() RecordType        { return RecordPriceUpdated }

func (r *MarketCreated) Market() *state.MarketID       { return &r.ID }
func (r *RateModelEnabled) Market() *state.MarketID    { return nil }
func (r *LltvEnabled) Market() *state.MarketID         { return nil }
func (r *OwnerSet) Market() *state.MarketID            { return nil }
func (r *FeeSet) Market() *state.MarketID              { return &r.ID }
func (r *FeeRecipientSet) Market() *state.MarketID     { return nil }
func (r *AuthorizationSet) Market() *state.MarketID    { return nil }
func (r *InterestAccrued) Market() *state.MarketID     { return &r.ID }
func (r *Supplied) Market() *state.MarketID            { return &r.ID }
func (r *Withdrawn) Market() *state.MarketID           { return &r.ID }
func (r *Borrowed) Market() *state.MarketID            { return &r.ID }
func (r *Repaid) Market() *state.MarketID              { return &r.ID }
func (r *CollateralSupplied) Market() *state.MarketID  { return &r.ID }
func (r *CollateralWithdrawn) Market() *state.MarketID { return &r.ID }
func (r *Liquidated) Market() *state.MarketID          { return &r.ID }
func (r *FlashLoaned) Market() *state.MarketID         { return nil }
func (r *TokenDeposited) Market() *state.MarketID      { return nil }
func (r *TokenWithdrawn) Market() *state.MarketID      { return nil }
func (r *TokenApproved) Market() *state.MarketID       { return nil }
func (r *PriceUpdated) Market() *state.MarketID        { return nil }

// TaggedRecord is the wire form of a record.
type TaggedRecord struct {
	Type RecordType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalRecord encodes one record with its type tag.
func MarshalRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", r.RecordType(), err)
	}
	return json.Marshal(TaggedRecord{Type: r.RecordType(), Data: data})
}

// MarshalRecords encodes records as a JSON array of tagged records.
func MarshalRecords(records []Record) ([]byte, error) {
	tagged := make([]TaggedRecord, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record: %w", r.RecordType(), err)
		}
		tagged = append(tagged, TaggedRecord{Type: r.RecordType(), Data: data})
	}
	return json.Marshal(tagged)
}
