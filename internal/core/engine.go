package core

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"BlueLedger/internal/event"
	"BlueLedger/internal/ledger"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/oracle"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrMissingIdempotencyKey = errors.New("core: missing idempotency key")
	ErrSequence              = errors.New("core: sequence validation failed")
)

// DeterministicCore is the single-threaded command processor. Every state
// change goes through ProcessEvent or an operation invoked from a callback
// while ProcessEvent runs.
type DeterministicCore struct {
	opts     Options
	sequence int64
	now      uint64
	hasher   *StateHasher

	registry  *state.Registry
	positions *state.PositionManager
	auths     *state.Authorizations
	book      *ledger.Book
	validator *ledger.InvariantValidator
	feed      *oracle.Feed

	tokens      TokenDirectory
	extTokens   Checkpointer
	ownsCustody bool
	oracles     map[common.Address]Oracle
	rateModels  map[common.Address]RateModel

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Per-command scratch, reset by ProcessEvent
	undo             []func()
	records          []event.Record
	depth            int
	touchedMarkets   map[state.MarketID]bool
	touchedPositions map[state.PositionKey]bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one command.
type CoreOutput struct {
	Envelope  *event.EventEnvelope
	Batch     *ledger.Batch
	Records   []event.Record
	Markets   []MarketState
	Positions []PositionState
	Balances  []BalanceState
}

type MarketState struct {
	ID     state.MarketID     `json:"market_id"`
	Params state.MarketParams `json:"market_params"`
	Market *state.Market      `json:"market"`
}

type PositionState struct {
	Key      state.PositionKey `json:"key"`
	Position *state.Position   `json:"position"`
}

type BalanceState struct {
	Account ledger.AccountKey `json:"account"`
	Balance *uint256.Int      `json:"balance"`
}

func NewDeterministicCore(
	opts Options,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	if opts.Custody == (common.Address{}) {
		opts.Custody = DefaultCustodyAddress
	}
	if opts.Liquidation.Cursor == nil || opts.Liquidation.MaxIncentiveFactor == nil {
		opts.Liquidation = state.DefaultLiquidationParams()
	}
	if opts.IdempotencyCapacity <= 0 {
		opts.IdempotencyCapacity = DefaultOptions().IdempotencyCapacity
	}

	book := ledger.NewBook()
	c := &DeterministicCore{
		opts:              opts,
		hasher:            NewStateHasher(),
		registry:          state.NewRegistry(opts.Owner),
		positions:         state.NewPositionManager(),
		auths:             state.NewAuthorizations(),
		book:              book,
		validator:         ledger.NewInvariantValidator(book.Tracker()),
		feed:              oracle.NewFeed(),
		oracles:           make(map[common.Address]Oracle),
		rateModels:        make(map[common.Address]RateModel),
		idempotency:       NewIdempotencyChecker(opts.IdempotencyCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		touchedMarkets:    make(map[state.MarketID]bool),
		touchedPositions:  make(map[state.PositionKey]bool),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}

	if opts.Tokens != nil {
		c.tokens = opts.Tokens
		if cp, ok := opts.Tokens.(Checkpointer); ok {
			c.extTokens = cp
		}
	} else {
		c.tokens = bookDirectory{book: book, self: opts.Custody}
		c.ownsCustody = true
	}
	return c
}

// ProcessEvent is the main processing pipeline. It returns the records of
// an applied command, or the operation error of a rejected one. Duplicates
// and stale prices return (nil, nil) without emitting output.
func (c *DeterministicCore) ProcessEvent(cmd event.Command) ([]event.Record, error) {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()
	if key == "" {
		c.recordRejected(cmdType, "missing_key")
		return nil, ErrMissingIdempotencyKey
	}

	payload, err := event.EncodeCommand(cmd)
	if err != nil {
		c.recordRejected(cmdType, "encode")
		return nil, err
	}

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(cmdType, key)

	// Step 2: Sequence validation. Price feeds tolerate gaps and drop stale
	// updates as duplicates.
	if p, ok := cmd.(*event.PriceUpdate); ok {
		if !isDuplicate && !c.sequenceValidator.ValidatePriceSequence(p.Partition(), p.PriceSequence) {
			isDuplicate = true
		}
	} else if err := c.sequenceValidator.ValidateSequence(cmd.Partition(), cmd.SourceSequence(), key, isDuplicate); err != nil {
		c.recordRejected(cmdType, "sequence")
		return nil, fmt.Errorf("%w: %v", ErrSequence, err)
	}

	if isDuplicate {
		c.recordRejected(cmdType, "duplicate")
		return nil, nil
	}

	// Step 3: Apply. A failed operation leaves state untouched but still
	// consumes a sequence so replay sees the same history.
	c.resetTouched()
	opErr := c.apply(cmd)

	records := slices.Clone(c.records)
	journals := c.book.DrainJournals()

	// Step 4: Post-checks
	if opErr == nil {
		if err := c.postCheckInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	var batch *ledger.Batch
	if len(journals) > 0 {
		batch = ledger.NewBatch(key, c.sequence, c.now, journals)
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	recordsJSON, err := event.MarshalRecords(records)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode records: %v", err))
	}

	// Step 5: Hash chain
	hashStart := time.Now()
	digest := c.computeStateDigest(batch, recordsJSON, opErr)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		CommandType:    cmd.CommandType(),
		MarketID:       cmd.MarketID(),
		Timestamp:      cmd.BlockTime(),
		Caller:         cmd.Sender(),
		Source:         cmd.Partition(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		Records:        recordsJSON,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{Envelope: envelope, Batch: batch, Records: records}
	if opErr != nil {
		envelope.Rejected = true
		envelope.Error = opErr.Error()
	} else {
		output.Markets = c.touchedMarketStates()
		output.Positions = c.touchedPositionStates()
		output.Balances = c.balanceStates(batch)
	}
	c.sequence++

	// Step 6: Emit. Persistence blocks (backpressure); projections drop on
	// full and rebuild from the event log.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(cmdType, key)

	if c.metrics != nil {
		if opErr != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(cmdType, "operation").Inc()
		} else {
			c.metrics.CoreEventsApplied.WithLabelValues(cmdType).Inc()
			c.observeRecords(records)
		}
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		c.metrics.CoreEventDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return records, opErr
}

// apply advances the clock to the command's block time and dispatches it.
// The clock is restored if the command fails.
func (c *DeterministicCore) apply(cmd event.Command) error {
	if cmd.BlockTime() < c.now {
		return fmt.Errorf("%w: %d is before %d", state.ErrStaleTimestamp, cmd.BlockTime(), c.now)
	}
	prev := c.now
	c.now = cmd.BlockTime()
	if err := c.dispatch(cmd); err != nil {
		c.now = prev
		return err
	}
	return nil
}

func (c *DeterministicCore) dispatch(cmd event.Command) error {
	caller := cmd.Sender()
	var err error
	switch e := cmd.(type) {
	case *event.CreateMarket:
		err = c.CreateMarket(caller, e.Params)
	case *event.EnableRateModel:
		err = c.EnableRateModel(caller, e.RateModel)
	case *event.EnableLltv:
		err = c.EnableLltv(caller, e.Lltv)
	case *event.SetOwner:
		err = c.SetOwner(caller, e.NewOwner)
	case *event.SetFee:
		err = c.SetFee(caller, e.Params, e.Fee)
	case *event.SetFeeRecipient:
		err = c.SetFeeRecipient(caller, e.Recipient)
	case *event.SetAuthorization:
		err = c.SetAuthorization(caller, e.Delegate, e.Authorized)
	case *event.AccrueInterest:
		err = c.AccrueInterest(e.Params)
	case *event.Supply:
		_, _, err = c.Supply(caller, e.Params, e.Assets, e.Shares, e.OnBehalf, e.Data, e.Callback)
	case *event.Withdraw:
		_, _, err = c.Withdraw(caller, e.Params, e.Assets, e.Shares, e.OnBehalf, e.Receiver)
	case *event.Borrow:
		_, _, err = c.Borrow(caller, e.Params, e.Assets, e.Shares, e.OnBehalf, e.Receiver)
	case *event.Repay:
		_, _, err = c.Repay(caller, e.Params, e.Assets, e.Shares, e.OnBehalf, e.Data, e.Callback)
	case *event.SupplyCollateral:
		err = c.SupplyCollateral(caller, e.Params, e.Assets, e.OnBehalf, e.Data, e.Callback)
	case *event.WithdrawCollateral:
		err = c.WithdrawCollateral(caller, e.Params, e.Assets, e.OnBehalf, e.Receiver)
	case *event.Liquidate:
		_, _, err = c.Liquidate(caller, e.Params, e.Borrower, e.SeizedAssets, e.RepaidShares, e.Data, e.Callback)
	case *event.FlashLoan:
		err = c.FlashLoan(caller, e.Token, e.Assets, e.Data, e.Callback)
	case *event.TokenDeposit:
		err = c.DepositToken(caller, e.Token, e.Account, e.Amount)
	case *event.TokenWithdrawal:
		err = c.WithdrawToken(caller, e.Token, e.Amount)
	case *event.TokenApprove:
		err = c.ApproveToken(caller, e.Token, e.Spender, e.Amount)
	case *event.PriceUpdate:
		err = c.UpdatePrice(caller, e.Oracle, e.Price, e.PriceSequence)
	default:
		err = fmt.Errorf("unknown command type: %T", cmd)
	}
	return err
}

// computeStateDigest creates canonical bytes for the state hash. Rejected
// commands hash the clock and the error only.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, records []byte, opErr error) []byte {
	digest := appendUint64LE(make([]byte, 0, 512), c.now)

	if opErr != nil {
		msg := opErr.Error()
		digest = append(digest, 'R')
		digest = appendUint64LE(digest, uint64(len(msg)))
		return append(digest, msg...)
	}

	for _, id := range c.sortedTouchedMarkets() {
		digest = append(digest, id[:]...)
		digest = append(digest, c.registry.Market(id).CanonicalBytes()...)
	}

	for _, key := range c.sortedTouchedPositions() {
		digest = append(digest, c.positions.View(key.Market, key.User).CanonicalBytes(key)...)
	}

	for _, key := range affectedAccounts(batch) {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		word := c.book.Tracker().GetBalance(key).Bytes32()
		digest = append(digest, word[:]...)
	}

	return append(digest, records...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after a successful command
func (c *DeterministicCore) postCheckInvariants() error {
	for _, id := range c.sortedTouchedMarkets() {
		m := c.registry.Market(id)
		if !m.IsSolvent() {
			return fmt.Errorf("market %s: borrow assets %s exceed supply assets %s",
				id.Hex(), m.TotalBorrowAssets.Dec(), m.TotalSupplyAssets.Dec())
		}
		if c.opts.StrictInvariants {
			if err := c.checkShareTotals(id, m); err != nil {
				return err
			}
		}
	}

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}

	// Periodic custody check against everything the markets owe
	if c.ownsCustody && (c.opts.StrictInvariants || (c.sequence > 0 && c.sequence%1000 == 0)) {
		owed, err := c.custodyOwed()
		if err != nil {
			return err
		}
		for _, asset := range sortedAssets(owed) {
			if err := c.validator.ValidateCustody(c.opts.Custody, asset, owed[asset]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *DeterministicCore) checkShareTotals(id state.MarketID, m *state.Market) error {
	supply, borrow := fpmath.Zero(), fpmath.Zero()
	for _, key := range c.positions.MarketPositions(id) {
		pos := c.positions.View(key.Market, key.User)
		supply = new(uint256.Int).Add(supply, pos.SupplyShares)
		borrow = new(uint256.Int).Add(borrow, pos.BorrowShares)
	}
	if !supply.Eq(m.TotalSupplyShares) {
		return fmt.Errorf("market %s: position supply shares %s != total %s", id.Hex(), supply.Dec(), m.TotalSupplyShares.Dec())
	}
	if !borrow.Eq(m.TotalBorrowShares) {
		return fmt.Errorf("market %s: position borrow shares %s != total %s", id.Hex(), borrow.Dec(), m.TotalBorrowShares.Dec())
	}
	return nil
}

// custodyOwed sums, per token, the liquidity of markets lending it and the
// collateral posted in it.
func (c *DeterministicCore) custodyOwed() (map[common.Address]*uint256.Int, error) {
	owed := make(map[common.Address]*uint256.Int)
	bump := func(asset common.Address, v *uint256.Int) error {
		cur := owed[asset]
		if cur == nil {
			cur = fpmath.Zero()
		}
		next, err := fpmath.Add(cur, v)
		if err != nil {
			return err
		}
		owed[asset] = next
		return nil
	}

	for _, id := range c.registry.MarketIDs() {
		params, _ := c.registry.Params(id)
		if err := bump(params.LoanToken, c.registry.Market(id).Liquidity()); err != nil {
			return nil, err
		}
		for _, key := range c.positions.MarketPositions(id) {
			if err := bump(params.CollateralToken, c.positions.View(key.Market, key.User).Collateral); err != nil {
				return nil, err
			}
		}
	}
	return owed, nil
}

func (c *DeterministicCore) sortedTouchedMarkets() []state.MarketID {
	ids := make([]state.MarketID, 0, len(c.touchedMarkets))
	for id := range c.touchedMarkets {
		if c.registry.HasMarket(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func (c *DeterministicCore) sortedTouchedPositions() []state.PositionKey {
	keys := make([]state.PositionKey, 0, len(c.touchedPositions))
	for key := range c.touchedPositions {
		if c.positions.GetPosition(key.Market, key.User) != nil {
			keys = append(keys, key)
		}
	}
	state.SortPositionKeys(keys)
	return keys
}

func (c *DeterministicCore) touchedMarketStates() []MarketState {
	ids := c.sortedTouchedMarkets()
	out := make([]MarketState, 0, len(ids))
	for _, id := range ids {
		params, _ := c.registry.Params(id)
		out = append(out, MarketState{ID: id, Params: params, Market: c.registry.Market(id).Clone()})
	}
	return out
}

func (c *DeterministicCore) touchedPositionStates() []PositionState {
	keys := c.sortedTouchedPositions()
	out := make([]PositionState, 0, len(keys))
	for _, key := range keys {
		out = append(out, PositionState{Key: key, Position: c.positions.View(key.Market, key.User).Clone()})
	}
	return out
}

func (c *DeterministicCore) balanceStates(batch *ledger.Batch) []BalanceState {
	keys := affectedAccounts(batch)
	out := make([]BalanceState, 0, len(keys))
	for _, key := range keys {
		out = append(out, BalanceState{Account: key, Balance: c.book.Tracker().GetBalance(key)})
	}
	return out
}

// affectedAccounts lists the accounts a batch touches in path order
func affectedAccounts(batch *ledger.Batch) []ledger.AccountKey {
	if batch == nil {
		return nil
	}
	seen := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		seen[j.DebitAccount] = true
		seen[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(seen))
	for key := range seen {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	return accounts
}

func sortedAssets(m map[common.Address]*uint256.Int) []common.Address {
	out := make([]common.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (c *DeterministicCore) recordRejected(cmdType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(cmdType, reason).Inc()
	}
}

func (c *DeterministicCore) observeRecords(records []event.Record) {
	for _, r := range records {
		switch rec := r.(type) {
		case *event.MarketCreated:
			c.metrics.MarketsCreated.Inc()
		case *event.InterestAccrued:
			c.metrics.InterestAccrued.WithLabelValues(rec.ID.Hex()).Inc()
		case *event.Liquidated:
			c.metrics.Liquidations.WithLabelValues(rec.ID.Hex()).Inc()
			if rec.BadDebtShares != nil && !rec.BadDebtShares.IsZero() {
				c.metrics.BadDebtRealized.WithLabelValues(rec.ID.Hex()).Inc()
			}
		case *event.FlashLoaned:
			c.metrics.FlashLoans.WithLabelValues(rec.Token.Hex()).Inc()
		case *event.PriceUpdated:
			c.metrics.PriceUpdates.WithLabelValues(rec.Oracle.Hex()).Inc()
		}
	}
	for _, ms := range c.touchedMarketStates() {
		label := ms.ID.Hex()
		supply, _ := state.Decimal(ms.Market.TotalSupplyAssets).Float64()
		borrow, _ := state.Decimal(ms.Market.TotalBorrowAssets).Float64()
		c.metrics.MarketSupplyAssets.WithLabelValues(label).Set(supply)
		c.metrics.MarketBorrowAssets.WithLabelValues(label).Set(borrow)
		if supply > 0 {
			c.metrics.MarketUtilization.WithLabelValues(label).Set(borrow / supply)
		}
	}
}
