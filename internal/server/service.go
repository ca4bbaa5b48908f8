package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"
	"BlueLedger/internal/ingestion"
	"BlueLedger/internal/persistence"
	"BlueLedger/internal/projection"
	"BlueLedger/internal/query"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "blueledger.v1.Ledger"

// --- Messages ---

type SubmitRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Accepted       bool              `json:"accepted"`
	CommandType    string            `json:"command_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	Records        []json.RawMessage `json:"records"`
}

type MarketRequest struct {
	MarketID string `json:"market_id"`
}

type ListMarketsRequest struct{}

type ListMarketsResponse struct {
	Markets []query.MarketResponse `json:"markets"`
}

type PositionRequest struct {
	MarketID string `json:"market_id"`
	User     string `json:"user"`
}

type AccountRequest struct {
	Holder         string `json:"holder"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ListPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type ListBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type ListRecordsRequest struct {
	MarketID       string `json:"market_id,omitempty"`
	RecordType     string `json:"record_type,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListRecordsResponse struct {
	Records []query.RecordEntry `json:"records"`
}

type VerifyIntegrityRequest struct{}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

type EventLogInfoRequest struct{}

type EventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
}

// LedgerServer is the ledger's RPC surface.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetMarket(context.Context, *MarketRequest) (*query.MarketResponse, error)
	ListMarkets(context.Context, *ListMarketsRequest) (*ListMarketsResponse, error)
	GetPosition(context.Context, *PositionRequest) (*query.PositionResponse, error)
	GetHealth(context.Context, *PositionRequest) (*query.HealthResponse, error)
	ListPositions(context.Context, *AccountRequest) (*ListPositionsResponse, error)
	ListBalances(context.Context, *AccountRequest) (*ListBalancesResponse, error)
	ListJournals(context.Context, *AccountRequest) (*ListJournalsResponse, error)
	ListRecords(context.Context, *ListRecordsRequest) (*ListRecordsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *EventLogInfoRequest) (*EventLogInfoResponse, error)
}

// unary builds a method descriptor for handler h.
func unary[Req any, Resp any](name string, h func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
			}
			if interceptor == nil {
				return h(srv.(LedgerServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return h(srv.(LedgerServer), ctx, r.(*Req))
			})
		},
	}
}

// ServiceDesc describes LedgerServer to grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetMarket", LedgerServer.GetMarket),
		unary("ListMarkets", LedgerServer.ListMarkets),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("GetHealth", LedgerServer.GetHealth),
		unary("ListPositions", LedgerServer.ListPositions),
		unary("ListBalances", LedgerServer.ListBalances),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("ListRecords", LedgerServer.ListRecords),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("RebuildProjections", LedgerServer.RebuildProjections),
		unary("GetEventLogInfo", LedgerServer.GetEventLogInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blueledger/v1/ledger",
}

// ============================================================================
// Implementation
// ============================================================================

type ledgerService struct {
	qs      *query.QueryService
	ingest  *ingestion.GRPCIngestService
	snapMgr *persistence.SnapshotManager
	db      *sql.DB
	logger  zerolog.Logger
}

// NewLedgerService wires the RPC handlers. db and snapMgr may be nil for an
// in-memory ledger; the history and admin calls then report Unavailable.
func NewLedgerService(deps *ServerDeps) LedgerServer {
	return &ledgerService{
		qs:      deps.QueryService,
		ingest:  deps.IngestService,
		snapMgr: deps.SnapshotMgr,
		db:      deps.DB,
		logger:  deps.Logger,
	}
}

func (s *ledgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.CommandType == "" {
		return nil, status.Error(codes.InvalidArgument, "command_type is required")
	}
	cmd, records, err := s.ingest.SubmitJSON(ctx, req.CommandType, req.Payload)
	if err != nil {
		return nil, statusFor(err, codes.FailedPrecondition)
	}

	resp := &SubmitResponse{
		Accepted:       true,
		CommandType:    cmd.CommandType().String(),
		IdempotencyKey: cmd.IdempotencyKey(),
		Records:        make([]json.RawMessage, 0, len(records)),
	}
	for _, r := range records {
		data, err := event.MarshalRecord(r)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode record: %v", err)
		}
		resp.Records = append(resp.Records, data)
	}
	return resp, nil
}

func (s *ledgerService) GetMarket(ctx context.Context, req *MarketRequest) (*query.MarketResponse, error) {
	id, err := parseMarketID(req.MarketID)
	if err != nil {
		return nil, err
	}
	m, err := s.qs.GetMarket(ctx, id)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return m, nil
}

func (s *ledgerService) ListMarkets(ctx context.Context, _ *ListMarketsRequest) (*ListMarketsResponse, error) {
	markets, err := s.qs.ListMarkets(ctx)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return &ListMarketsResponse{Markets: markets}, nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *PositionRequest) (*query.PositionResponse, error) {
	id, user, err := parsePositionRequest(req)
	if err != nil {
		return nil, err
	}
	p, err := s.qs.GetPosition(ctx, id, user)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return p, nil
}

func (s *ledgerService) GetHealth(ctx context.Context, req *PositionRequest) (*query.HealthResponse, error) {
	id, user, err := parsePositionRequest(req)
	if err != nil {
		return nil, err
	}
	h, err := s.qs.GetHealth(ctx, id, user)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return h, nil
}

func (s *ledgerService) ListPositions(ctx context.Context, req *AccountRequest) (*ListPositionsResponse, error) {
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}
	positions, err := s.qs.ListPositions(ctx, holder)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return &ListPositionsResponse{Positions: positions}, nil
}

func (s *ledgerService) ListBalances(ctx context.Context, req *AccountRequest) (*ListBalancesResponse, error) {
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}
	balances, err := s.qs.GetBalances(ctx, holder)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return &ListBalancesResponse{Balances: balances}, nil
}

func (s *ledgerService) ListJournals(ctx context.Context, req *AccountRequest) (*ListJournalsResponse, error) {
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}
	entries, err := s.qs.GetJournalHistory(ctx, holder, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *ledgerService) ListRecords(ctx context.Context, req *ListRecordsRequest) (*ListRecordsResponse, error) {
	if req.MarketID != "" {
		if _, err := parseMarketID(req.MarketID); err != nil {
			return nil, err
		}
	}
	records, err := s.qs.ListRecords(ctx, query.RecordFilter{
		MarketID:       req.MarketID,
		RecordType:     req.RecordType,
		BeforeSequence: req.BeforeSequence,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	return &ListRecordsResponse{Records: records}, nil
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, statusFor(err, codes.Internal)
	}
	if !report.IsHealthy {
		s.logger.Warn().
			Ints64("hash_chain_breaks", report.HashChainBreaks).
			Int("unbalanced_assets", len(report.UnbalancedAssets)).
			Msg("integrity check failed")
	}
	return report, nil
}

func (s *ledgerService) RebuildProjections(ctx context.Context, _ *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error) {
	if s.db == nil {
		return nil, status.Error(codes.Unavailable, "no database configured")
	}
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

func (s *ledgerService) GetEventLogInfo(ctx context.Context, _ *EventLogInfoRequest) (*EventLogInfoResponse, error) {
	if s.snapMgr == nil {
		return nil, status.Error(codes.Unavailable, "no database configured")
	}
	latestSeq, err := s.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &EventLogInfoResponse{LastSequence: latestSeq}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseMarketID(s string) (state.MarketID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return state.MarketID{}, status.Error(codes.InvalidArgument, "market_id is required")
	}
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != 64 {
		return state.MarketID{}, status.Errorf(codes.InvalidArgument, "market_id must be 32 bytes of hex, got %q", s)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return state.MarketID{}, status.Errorf(codes.InvalidArgument, "market_id: %v", err)
	}
	return common.HexToHash(s), nil
}

func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s is not a hex address: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parsePositionRequest(req *PositionRequest) (state.MarketID, common.Address, error) {
	id, err := parseMarketID(req.MarketID)
	if err != nil {
		return state.MarketID{}, common.Address{}, err
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return state.MarketID{}, common.Address{}, err
	}
	return id, user, nil
}

var invalidArgumentErrs = []error{
	ingestion.ErrMalformed,
	ingestion.ErrUnknownSubject,
	ingestion.ErrUnknownCommandType,
	ingestion.ErrNotWireCommand,
	core.ErrMissingIdempotencyKey,
	state.ErrInconsistentInput,
	state.ErrZeroAssets,
	state.ErrZeroAddress,
	state.ErrLltvTooHigh,
	state.ErrFeeTooHigh,
}

// statusFor maps ledger errors to gRPC codes. Errors it does not know get
// fallback.
func statusFor(err error, fallback codes.Code) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := fallback
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, state.ErrMarketNotCreated), errors.Is(err, query.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, state.ErrNotOwner), errors.Is(err, state.ErrNotAuthorized):
		code = codes.PermissionDenied
	case errors.Is(err, core.ErrSequencerStopped), errors.Is(err, query.ErrNoDatabase),
		errors.Is(err, state.ErrPriceUnavailable):
		code = codes.Unavailable
	case errors.Is(err, core.ErrSequence):
		code = codes.Aborted
	case errors.Is(err, state.ErrMarketAlreadyExists), errors.Is(err, state.ErrAlreadySet):
		code = codes.AlreadyExists
	default:
		for _, target := range invalidArgumentErrs {
			if errors.Is(err, target) {
				code = codes.InvalidArgument
				break
			}
		}
	}
	return status.Error(code, err.Error())
}
