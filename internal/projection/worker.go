package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"
	"BlueLedger/internal/observability"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionOutput is the post-state one command left behind, flattened to
// column values. Every row carries absolute values, so applying an output
// twice is harmless.
type ProjectionOutput struct {
	Sequence  int64
	BlockTime int64
	Markets   []MarketRow
	Positions []PositionRow
	Balances  []BalanceRow
	Records   []RecordRow
}

type MarketRow struct {
	MarketID          string
	LoanToken         string
	CollateralToken   string
	Oracle            string
	RateModel         string
	Lltv              string
	TotalSupplyAssets string
	TotalSupplyShares string
	TotalBorrowAssets string
	TotalBorrowShares string
	Fee               string
	LastUpdate        int64
}

type PositionRow struct {
	MarketID     string
	User         string
	SupplyShares string
	BorrowShares string
	Collateral   string
}

type BalanceRow struct {
	AccountPath string
	Asset       string
	Balance     string
}

type RecordRow struct {
	Index      int
	RecordType string
	MarketID   *string
	Data       []byte
}

// NewProjectionOutput flattens a core output.
func NewProjectionOutput(out core.CoreOutput) (ProjectionOutput, error) {
	p := ProjectionOutput{
		Sequence:  out.Envelope.Sequence,
		BlockTime: int64(out.Envelope.Timestamp),
	}
	for _, ms := range out.Markets {
		m := ms.Market
		p.Markets = append(p.Markets, MarketRow{
			MarketID:          ms.ID.Hex(),
			LoanToken:         hexAddr(ms.Params.LoanToken.Hex()),
			CollateralToken:   hexAddr(ms.Params.CollateralToken.Hex()),
			Oracle:            hexAddr(ms.Params.Oracle.Hex()),
			RateModel:         hexAddr(ms.Params.RateModel.Hex()),
			Lltv:              ms.Params.Lltv.Dec(),
			TotalSupplyAssets: m.TotalSupplyAssets.Dec(),
			TotalSupplyShares: m.TotalSupplyShares.Dec(),
			TotalBorrowAssets: m.TotalBorrowAssets.Dec(),
			TotalBorrowShares: m.TotalBorrowShares.Dec(),
			Fee:               m.Fee.Dec(),
			LastUpdate:        int64(m.LastUpdate),
		})
	}
	for _, ps := range out.Positions {
		p.Positions = append(p.Positions, PositionRow{
			MarketID:     ps.Key.Market.Hex(),
			User:         hexAddr(ps.Key.User.Hex()),
			SupplyShares: ps.Position.SupplyShares.Dec(),
			BorrowShares: ps.Position.BorrowShares.Dec(),
			Collateral:   ps.Position.Collateral.Dec(),
		})
	}
	for _, bs := range out.Balances {
		p.Balances = append(p.Balances, BalanceRow{
			AccountPath: bs.Account.AccountPath(),
			Asset:       hexAddr(bs.Account.Asset.Hex()),
			Balance:     bs.Balance.Dec(),
		})
	}
	for i, r := range out.Records {
		data, err := event.MarshalRecord(r)
		if err != nil {
			return ProjectionOutput{}, err
		}
		row := RecordRow{Index: i, RecordType: string(r.RecordType()), Data: data}
		if id := r.Market(); id != nil {
			s := id.Hex()
			row.MarketID = &s
		}
		p.Records = append(p.Records, row)
	}
	return p, nil
}

func hexAddr(s string) string { return strings.ToLower(s) }

// ProjectionWorker updates projection tables from core outputs.
// The projection channel drops on overflow; a gap is repaired with
// RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence returns the last sequence this worker applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run consumes outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if out.Envelope == nil || out.Envelope.Rejected {
				continue
			}

			if pw.lastSeq >= 0 && out.Envelope.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", out.Envelope.Sequence).
					Msg("projection gap, rebuild required for exact balances")
			}

			p, err := NewProjectionOutput(out)
			if err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("projection encode failed")
				continue
			}
			start := time.Now()
			if err := pw.Apply(ctx, p); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", p.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(workerID).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = p.Sequence
		}
	}
}

// Apply writes one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, p ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range p.Markets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.markets
				(market_id, loan_token, collateral_token, oracle, irm, lltv,
				 total_supply_assets, total_supply_shares, total_borrow_assets, total_borrow_shares,
				 fee, last_update, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (market_id) DO UPDATE SET
				total_supply_assets = EXCLUDED.total_supply_assets,
				total_supply_shares = EXCLUDED.total_supply_shares,
				total_borrow_assets = EXCLUDED.total_borrow_assets,
				total_borrow_shares = EXCLUDED.total_borrow_shares,
				fee = EXCLUDED.fee,
				last_update = EXCLUDED.last_update,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.markets.last_sequence <= EXCLUDED.last_sequence
		`, m.MarketID, m.LoanToken, m.CollateralToken, m.Oracle, m.RateModel, m.Lltv,
			m.TotalSupplyAssets, m.TotalSupplyShares, m.TotalBorrowAssets, m.TotalBorrowShares,
			m.Fee, m.LastUpdate, p.Sequence); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}

	for _, pos := range p.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(market_id, user_address, supply_shares, borrow_shares, collateral, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (market_id, user_address) DO UPDATE SET
				supply_shares = EXCLUDED.supply_shares,
				borrow_shares = EXCLUDED.borrow_shares,
				collateral = EXCLUDED.collateral,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.positions.last_sequence <= EXCLUDED.last_sequence
		`, pos.MarketID, pos.User, pos.SupplyShares, pos.BorrowShares, pos.Collateral, p.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	for _, b := range p.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path) DO UPDATE SET
				balance = EXCLUDED.balance,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence <= EXCLUDED.last_sequence
		`, b.AccountPath, b.Asset, b.Balance, p.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, r := range p.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.records (sequence, idx, record_type, market_id, block_time, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence, idx) DO NOTHING
		`, p.Sequence, r.Index, r.RecordType, r.MarketID, p.BlockTime, string(r.Data)); err != nil {
			return fmt.Errorf("record projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, workerID, p.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// RebuildProjections rebuilds balance and record projections from the event log.
// Market and position rows need a core replay and are left to the replay command.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.records`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits grow holder accounts; external accounts are sign-flipped.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT account_path, asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset,
			       CASE WHEN debit_account LIKE 'external:%' THEN -amount ELSE amount END AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset,
			       CASE WHEN credit_account LIKE 'external:%' THEN amount ELSE -amount END AS delta, sequence
			FROM event_log.journal
		) moves
		GROUP BY account_path, asset
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.records (sequence, idx, record_type, market_id, block_time, data)
		SELECT e.sequence, (r.ord - 1)::INT, r.rec->>'type',
		       NULLIF(r.rec->'data'->>'market_id', ''), e.block_time, r.rec
		FROM event_log.events e
		CROSS JOIN LATERAL jsonb_array_elements(e.records) WITH ORDINALITY AS r(rec, ord)
		WHERE NOT e.rejected AND e.records IS NOT NULL
	`); err != nil {
		return fmt.Errorf("rebuild records: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
