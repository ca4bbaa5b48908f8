package ingestion

import (
	"context"

	"BlueLedger/internal/event"
)

// Submitter applies a command and returns its records.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) ([]event.Record, error)
}

// GRPCIngestService is the synchronous ingest path used by the RPC and HTTP
// servers. Bulk traffic belongs on NATS.
type GRPCIngestService struct {
	submitter Submitter
}

func NewGRPCIngestService(submitter Submitter) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter}
}

// SubmitJSON parses a wire command and waits for the core's verdict.
func (s *GRPCIngestService) SubmitJSON(ctx context.Context, commandType string, payload []byte) (event.Command, []event.Record, error) {
	ct := event.ParseCommandType(commandType)
	if ct == event.CommandTypeUnknown {
		return nil, nil, ErrUnknownCommandType
	}
	cmd, err := ParseCommand(ct, payload)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.submitter.Submit(ctx, cmd)
	return cmd, records, err
}
