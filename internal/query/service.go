package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"BlueLedger/internal/core"
	"BlueLedger/internal/irm"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound   = errors.New("query: not found")
	ErrNoDatabase = errors.New("query: no database configured")
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// LiveReader runs fn against the core between commands.
type LiveReader interface {
	Read(ctx context.Context, fn func(*core.DeterministicCore)) error
}

// QueryService answers reads. Market, position and health views come from
// the live core so they reflect every applied command; history comes from
// the projection tables and carries the projection watermark as
// as_of_sequence.
type QueryService struct {
	db      *sql.DB
	live    LiveReader
	metrics *observability.Metrics
}

// NewQueryService wires a query service. db may be nil, in which case only
// the live views work.
func NewQueryService(db *sql.DB, live LiveReader, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, live: live, metrics: metrics}
}

// --- Live views ---

// GetMarket returns a market with interest projected to the last block time.
func (qs *QueryService) GetMarket(ctx context.Context, id state.MarketID) (*MarketResponse, error) {
	var resp *MarketResponse
	var viewErr error
	if err := qs.live.Read(ctx, func(c *core.DeterministicCore) {
		resp, viewErr = marketView(c, id)
	}); err != nil {
		return nil, err
	}
	return resp, viewErr
}

// ListMarkets returns every created market in id order.
func (qs *QueryService) ListMarkets(ctx context.Context) ([]MarketResponse, error) {
	var out []MarketResponse
	var viewErr error
	if err := qs.live.Read(ctx, func(c *core.DeterministicCore) {
		for _, id := range c.MarketIDs() {
			m, err := marketView(c, id)
			if err != nil {
				viewErr = err
				return
			}
			out = append(out, *m)
		}
	}); err != nil {
		return nil, err
	}
	return out, viewErr
}

// GetPosition returns user's position in a market. Absent positions are zero.
func (qs *QueryService) GetPosition(ctx context.Context, id state.MarketID, user common.Address) (*PositionResponse, error) {
	var resp *PositionResponse
	var viewErr error
	if err := qs.live.Read(ctx, func(c *core.DeterministicCore) {
		resp, viewErr = positionView(c, id, user)
	}); err != nil {
		return nil, err
	}
	return resp, viewErr
}

// GetHealth values user's position at the current oracle price.
func (qs *QueryService) GetHealth(ctx context.Context, id state.MarketID, user common.Address) (*HealthResponse, error) {
	var resp *HealthResponse
	var viewErr error
	if err := qs.live.Read(ctx, func(c *core.DeterministicCore) {
		resp, viewErr = healthView(c, id, user)
	}); err != nil {
		return nil, err
	}
	return resp, viewErr
}

func lookupMarket(c *core.DeterministicCore, id state.MarketID) (state.MarketParams, *state.Market, error) {
	params, ok := c.MarketParams(id)
	if !ok {
		return state.MarketParams{}, nil, fmt.Errorf("%w: %s", state.ErrMarketNotCreated, id.Hex())
	}
	m, err := c.ExpectedMarketBalances(params, c.Now())
	if err != nil {
		return state.MarketParams{}, nil, err
	}
	return params, m, nil
}

func marketView(c *core.DeterministicCore, id state.MarketID) (*MarketResponse, error) {
	params, m, err := lookupMarket(c, id)
	if err != nil {
		return nil, err
	}

	util, err := irm.Utilization(*m)
	if err != nil {
		return nil, err
	}
	rate, err := c.BorrowRate(params)
	if err != nil {
		return nil, err
	}
	borrowAPR := state.WadDecimal(rate).Mul(decimal.NewFromInt(irm.SecondsPerYear))
	fee := state.WadDecimal(m.Fee)
	supplyAPR := borrowAPR.Mul(state.WadDecimal(util)).Mul(decimal.NewFromInt(1).Sub(fee))

	resp := &MarketResponse{
		MarketID:          id.Hex(),
		LoanToken:         lowerHex(params.LoanToken),
		CollateralToken:   lowerHex(params.CollateralToken),
		Oracle:            lowerHex(params.Oracle),
		RateModel:         lowerHex(params.RateModel),
		Lltv:              state.WadDecimal(params.Lltv),
		TotalSupplyAssets: m.TotalSupplyAssets.Dec(),
		TotalSupplyShares: m.TotalSupplyShares.Dec(),
		TotalBorrowAssets: m.TotalBorrowAssets.Dec(),
		TotalBorrowShares: m.TotalBorrowShares.Dec(),
		Liquidity:         m.Liquidity().Dec(),
		Fee:               fee,
		LastUpdate:        m.LastUpdate,
		Utilization:       state.WadDecimal(util),
		BorrowAPR:         borrowAPR,
		SupplyAPR:         supplyAPR,
		AsOfSequence:      c.GetSequence() - 1,
	}
	// Markets without a quote are still listed.
	if price, err := c.Price(params); err == nil {
		resp.Price = price.Dec()
	}
	return resp, nil
}

func positionView(c *core.DeterministicCore, id state.MarketID, user common.Address) (*PositionResponse, error) {
	params, _, err := lookupMarket(c, id)
	if err != nil {
		return nil, err
	}
	pos := c.Position(id, user)
	supplied, err := c.ExpectedSupplyAssets(params, user, c.Now())
	if err != nil {
		return nil, err
	}
	borrowed, err := c.ExpectedBorrowAssets(params, user, c.Now())
	if err != nil {
		return nil, err
	}
	return &PositionResponse{
		MarketID:     id.Hex(),
		User:         lowerHex(user),
		SupplyShares: pos.SupplyShares.Dec(),
		BorrowShares: pos.BorrowShares.Dec(),
		Collateral:   pos.Collateral.Dec(),
		SupplyAssets: supplied.Dec(),
		BorrowAssets: borrowed.Dec(),
		AsOfSequence: c.GetSequence() - 1,
	}, nil
}

func healthView(c *core.DeterministicCore, id state.MarketID, user common.Address) (*HealthResponse, error) {
	params, m, err := lookupMarket(c, id)
	if err != nil {
		return nil, err
	}
	price, err := c.Price(params)
	if err != nil {
		return nil, err
	}
	pos := c.Position(id, user)

	status, err := state.CheckHealth(params, m, pos, price)
	if err != nil {
		return nil, err
	}
	borrowed, err := state.BorrowedAssets(m, pos)
	if err != nil {
		return nil, err
	}
	maxBorrow, err := state.MaxBorrow(pos.Collateral, price, params.Lltv)
	if err != nil {
		return nil, err
	}

	resp := &HealthResponse{
		MarketID:     id.Hex(),
		User:         lowerHex(user),
		Status:       status.String(),
		Healthy:      status != state.HealthStatusUnhealthy,
		Collateral:   pos.Collateral.Dec(),
		Borrowed:     borrowed.Dec(),
		MaxBorrow:    maxBorrow.Dec(),
		Price:        price.Dec(),
		AsOfSequence: c.GetSequence() - 1,
	}
	factor, ok, err := state.HealthFactor(params, m, pos, price)
	if err != nil {
		return nil, err
	}
	if ok {
		resp.HealthFactor = &factor
	}
	return resp, nil
}

// --- Projection views ---

// ListPositions returns user's non-empty positions from the projections.
func (qs *QueryService) ListPositions(ctx context.Context, user common.Address) ([]PositionResponse, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, supply_shares, borrow_shares, collateral
		FROM projections.positions
		WHERE user_address = $1 AND (supply_shares > 0 OR borrow_shares > 0 OR collateral > 0)
		ORDER BY market_id
	`, lowerHex(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		p := PositionResponse{User: lowerHex(user), AsOfSequence: asOfSeq}
		if err := rows.Scan(&p.MarketID, &p.SupplyShares, &p.BorrowShares, &p.Collateral); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListRecords pages through record history, newest first.
func (qs *QueryService) ListRecords(ctx context.Context, f RecordFilter) ([]RecordEntry, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	if _, err := qs.getWatermark(ctx); err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, idx, record_type, market_id, block_time, data
		FROM projections.records
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if f.MarketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, strings.ToLower(f.MarketID))
		argIdx++
	}
	if f.RecordType != "" {
		query += fmt.Sprintf(" AND record_type = $%d", argIdx)
		args = append(args, f.RecordType)
		argIdx++
	}
	if f.BeforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *f.BeforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, idx ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(f.Limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RecordEntry
	for rows.Next() {
		var e RecordEntry
		var marketID sql.NullString
		var data []byte
		if err := rows.Scan(&e.Sequence, &e.Index, &e.RecordType, &marketID, &e.BlockTime, &data); err != nil {
			return nil, err
		}
		if marketID.Valid {
			e.MarketID = &marketID.String
		}
		e.Data = data
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetJournalHistory returns journal lines touching holder, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder common.Address,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	accountPrefix := fmt.Sprintf("holder:%s:%%", lowerHex(holder))

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, block_time
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.BlockTime,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and that, per asset, holder
// balances add up to issuance.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash != e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset,
		       COALESCE(SUM(balance) FILTER (WHERE account_path LIKE 'holder:%'), 0) AS holders,
		       COALESCE(SUM(balance) FILTER (WHERE account_path LIKE 'external:%'), 0) AS issuance
		FROM projections.balances
		GROUP BY asset
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset, holders, issuance string
		if err := balanceRows.Scan(&asset, &holders, &issuance); err != nil {
			return nil, err
		}
		if u, ok := compareTotals(asset, holders, issuance); !ok {
			report.UnbalancedAssets = append(report.UnbalancedAssets, u)
		}
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// compareTotals reports whether holder balances match issuance.
func compareTotals(asset, holders, issuance string) (UnbalancedAsset, bool) {
	h, errH := decimal.NewFromString(holders)
	i, errI := decimal.NewFromString(issuance)
	u := UnbalancedAsset{Asset: asset, Holders: holders, Issuance: issuance}
	if errH != nil || errI != nil {
		u.Imbalance = "unparseable"
		return u, false
	}
	if h.Equal(i) {
		return u, true
	}
	u.Imbalance = h.Sub(i).String()
	return u, false
}

// --- helpers ---

// getWatermark returns the last projected sequence, or -1 before the first
// projection. It also records how stale the projections are.
func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	var updatedAt time.Time
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, updated_at FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	if qs.metrics != nil {
		qs.metrics.QueryFreshnessLag.WithLabelValues("main").Observe(time.Since(updatedAt).Seconds())
	}
	return seq, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
