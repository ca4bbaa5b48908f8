package core

import (
	"context"
	"errors"

	"BlueLedger/internal/event"

	"github.com/rs/zerolog"
)

// ErrSequencerStopped is returned once Run has exited.
var ErrSequencerStopped = errors.New("core: sequencer stopped")

// Sequencer owns the core and serializes every command and read onto one
// goroutine.
type Sequencer struct {
	core     *DeterministicCore
	requests chan request
	done     chan struct{}
	logger   zerolog.Logger
}

type request struct {
	cmd   event.Command
	read  func(*DeterministicCore)
	reply chan result
}

type result struct {
	records []event.Record
	err     error
}

func NewSequencer(core *DeterministicCore, buffer int, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		core:     core,
		requests: make(chan request, buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Run processes requests until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Info().Int64("sequence", s.core.GetSequence()).Msg("sequencer started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int64("sequence", s.core.GetSequence()).Msg("sequencer stopped")
			return ctx.Err()
		case req := <-s.requests:
			s.handle(req)
		}
	}
}

func (s *Sequencer) handle(req request) {
	if req.read != nil {
		req.read(s.core)
		req.reply <- result{}
		return
	}
	records, err := s.core.ProcessEvent(req.cmd)
	if err != nil {
		s.logger.Debug().
			Err(err).
			Str("command_type", req.cmd.CommandType().String()).
			Str("idempotency_key", req.cmd.IdempotencyKey()).
			Msg("command rejected")
	}
	for _, r := range records {
		if liq, ok := r.(*event.Liquidated); ok && liq.BadDebtAssets != nil && !liq.BadDebtAssets.IsZero() {
			s.logger.Warn().
				Str("market_id", liq.ID.Hex()).
				Str("borrower", liq.Borrower.Hex()).
				Str("bad_debt_assets", liq.BadDebtAssets.Dec()).
				Msg("bad debt written off")
		}
	}
	if req.reply != nil {
		req.reply <- result{records: records, err: err}
	}
}

// Submit processes cmd and waits for its outcome.
func (s *Sequencer) Submit(ctx context.Context, cmd event.Command) ([]event.Record, error) {
	reply := make(chan result, 1)
	if err := s.send(ctx, request{cmd: cmd, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.records, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue hands cmd to the sequencer without waiting for the outcome.
func (s *Sequencer) Enqueue(ctx context.Context, cmd event.Command) error {
	return s.send(ctx, request{cmd: cmd})
}

// Read runs fn against the core between commands.
func (s *Sequencer) Read(ctx context.Context, fn func(*DeterministicCore)) error {
	reply := make(chan result, 1)
	if err := s.send(ctx, request{read: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) send(ctx context.Context, req request) error {
	select {
	case <-s.done:
		return ErrSequencerStopped
	default:
	}
	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
