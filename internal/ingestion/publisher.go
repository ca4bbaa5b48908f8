package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"BlueLedger/internal/core"
	"BlueLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes records of applied commands to
// blue.records.<type>.<market>; records without a market use "global".
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableRecord
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableRecord is one record with the envelope fields consumers need.
type PublishableRecord struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"`
	IdempotencyKey string          `json:"idempotency_key"`
	CommandType    string          `json:"command_type"`
	RecordType     string          `json:"record_type"`
	MarketID       *string         `json:"market_id,omitempty"`
	BlockTime      uint64          `json:"block_time"`
	StateHash      string          `json:"state_hash"`
	Record         json.RawMessage `json:"record"`
}

// Subject returns the NATS subject the record is published on.
func (r PublishableRecord) Subject() string {
	market := "global"
	if r.MarketID != nil {
		market = *r.MarketID
	}
	return fmt.Sprintf("blue.records.%s.%s", r.RecordType, market)
}

// RecordsFromOutput flattens a core output into publishable records.
// Rejected envelopes publish nothing.
func RecordsFromOutput(out core.CoreOutput) ([]PublishableRecord, error) {
	env := out.Envelope
	if env == nil || env.Rejected {
		return nil, nil
	}
	stateHash := fmt.Sprintf("%x", env.StateHash)
	recs := make([]PublishableRecord, 0, len(out.Records))
	for i, r := range out.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record: %w", r.RecordType(), err)
		}
		pr := PublishableRecord{
			Sequence:       env.Sequence,
			Index:          i,
			IdempotencyKey: env.IdempotencyKey,
			CommandType:    env.CommandType.String(),
			RecordType:     string(r.RecordType()),
			BlockTime:      env.Timestamp,
			StateHash:      stateHash,
			Record:         data,
		}
		if id := r.Market(); id != nil {
			s := id.Hex()
			pr.MarketID = &s
		}
		recs = append(recs, pr)
	}
	return recs, nil
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableRecord, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input closes. Failures are
// logged; consumers can fall back to the event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, rec); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", rec.Sequence).Str("subject", rec.Subject()).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rec PublishableRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	// Msg id lets JetStream drop republished records after a replay.
	msgID := fmt.Sprintf("%d-%d", rec.Sequence, rec.Index)
	_, err = op.js.Publish(ctx, rec.Subject(), data, jetstream.WithMsgID(msgID))
	return err
}

// EnsureOutboundStream creates the outbound records stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(RecordStream, "blue.records.>")); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", RecordStream).Msg("ensured outbound stream")
	return nil
}
