package query

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Amounts are decimal strings in token units. Rates and fractions are
// decimals; lltv 0.8 means 80%.

// MarketResponse is a market with interest accrued up to the last applied
// block time.
type MarketResponse struct {
	MarketID          string          `json:"market_id"`
	LoanToken         string          `json:"loan_token"`
	CollateralToken   string          `json:"collateral_token"`
	Oracle            string          `json:"oracle"`
	RateModel         string          `json:"irm"`
	Lltv              decimal.Decimal `json:"lltv"`
	TotalSupplyAssets string          `json:"total_supply_assets"`
	TotalSupplyShares string          `json:"total_supply_shares"`
	TotalBorrowAssets string          `json:"total_borrow_assets"`
	TotalBorrowShares string          `json:"total_borrow_shares"`
	Liquidity         string          `json:"liquidity"`
	Fee               decimal.Decimal `json:"fee"`
	LastUpdate        uint64          `json:"last_update"`
	Utilization       decimal.Decimal `json:"utilization"`
	BorrowAPR         decimal.Decimal `json:"borrow_apr"`
	SupplyAPR         decimal.Decimal `json:"supply_apr"`
	Price             string          `json:"price,omitempty"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// PositionResponse is a user's shares in one market plus their asset value.
type PositionResponse struct {
	MarketID     string `json:"market_id"`
	User         string `json:"user"`
	SupplyShares string `json:"supply_shares"`
	BorrowShares string `json:"borrow_shares"`
	Collateral   string `json:"collateral"`
	SupplyAssets string `json:"supply_assets,omitempty"`
	BorrowAssets string `json:"borrow_assets,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// HealthResponse values a position at the oracle's current price.
type HealthResponse struct {
	MarketID     string           `json:"market_id"`
	User         string           `json:"user"`
	Status       string           `json:"status"`
	Healthy      bool             `json:"healthy"`
	HealthFactor *decimal.Decimal `json:"health_factor,omitempty"`
	Collateral   string           `json:"collateral"`
	Borrowed     string           `json:"borrowed"`
	MaxBorrow    string           `json:"max_borrow"`
	Price        string           `json:"price"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// RecordFilter narrows ListRecords. Zero values match everything.
type RecordFilter struct {
	MarketID       string
	RecordType     string
	BeforeSequence *int64
	Limit          int
}

// RecordEntry is one record from the projection history.
type RecordEntry struct {
	Sequence   int64           `json:"sequence"`
	Index      int             `json:"index"`
	RecordType string          `json:"record_type"`
	MarketID   *string         `json:"market_id,omitempty"`
	BlockTime  int64           `json:"block_time"`
	Data       json.RawMessage `json:"data"`
}

// JournalHistoryEntry is one journal line touching a holder.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	BlockTime     int64  `json:"block_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset is an asset whose holder balances do not add up to its
// issuance.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Holders   string `json:"holders"`
	Issuance  string `json:"issuance"`
	Imbalance string `json:"imbalance"`
}
