package query

import (
	"context"
	"fmt"

	"BlueLedger/internal/core"
	"BlueLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceResponse is a custody-book balance. Allowance is only set by the
// live view when a spender is given.
type BalanceResponse struct {
	Holder       string `json:"holder"`
	Asset        string `json:"asset"`
	AccountPath  string `json:"account_path"`
	Balance      string `json:"balance"`
	Allowance    string `json:"allowance,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalance reads holder's balance of asset from the live book.
func (qs *QueryService) GetBalance(ctx context.Context, asset, holder common.Address, spender *common.Address) (*BalanceResponse, error) {
	var resp *BalanceResponse
	if err := qs.live.Read(ctx, func(c *core.DeterministicCore) {
		resp = &BalanceResponse{
			Holder:       lowerHex(holder),
			Asset:        lowerHex(asset),
			AccountPath:  ledger.NewHolderAccountKey(holder, asset).AccountPath(),
			Balance:      c.BalanceOf(asset, holder).Dec(),
			AsOfSequence: c.GetSequence() - 1,
		}
		if spender != nil {
			resp.Allowance = c.Allowance(asset, holder, *spender).Dec()
		}
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetBalances lists holder's projected balances across all assets.
func (qs *QueryService) GetBalances(ctx context.Context, holder common.Address) ([]BalanceResponse, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY asset
	`, fmt.Sprintf("holder:%s:%%", lowerHex(holder)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{Holder: lowerHex(holder), AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.AccountPath, &b.Asset, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return nil, fmt.Errorf("%w: no balances for %s", ErrNotFound, lowerHex(holder))
	}
	return balances, nil
}
