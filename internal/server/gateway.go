package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

// NewGatewayMux exposes svc as HTTP/JSON. Handlers call svc directly, so
// both transports share validation and error codes.
func NewGatewayMux(svc LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/commands/{command_type}", submitHandler(svc)},
		{http.MethodGet, "/v1/markets", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.ListMarkets(r.Context(), &ListMarketsRequest{})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/markets/{market_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetMarket(r.Context(), &MarketRequest{MarketID: p["market_id"]})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/markets/{market_id}/positions/{user}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetPosition(r.Context(), &PositionRequest{MarketID: p["market_id"], User: p["user"]})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/markets/{market_id}/positions/{user}/health", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetHealth(r.Context(), &PositionRequest{MarketID: p["market_id"], User: p["user"]})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/accounts/{holder}/positions", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.ListPositions(r.Context(), &AccountRequest{Holder: p["holder"]})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/accounts/{holder}/balances", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.ListBalances(r.Context(), &AccountRequest{Holder: p["holder"]})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/accounts/{holder}/journals", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			limit, before, err := pageParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.ListJournals(r.Context(), &AccountRequest{Holder: p["holder"], Limit: limit, BeforeSequence: before})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/records", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			limit, before, err := pageParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			q := r.URL.Query()
			resp, err := svc.ListRecords(r.Context(), &ListRecordsRequest{
				MarketID:       q.Get("market_id"),
				RecordType:     q.Get("record_type"),
				BeforeSequence: before,
				Limit:          limit,
			})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
			writeResult(w, resp, err)
		}},
		{http.MethodPost, "/v1/admin/projections/rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.RebuildProjections(r.Context(), &RebuildProjectionsRequest{})
			writeResult(w, resp, err)
		}},
		{http.MethodGet, "/v1/admin/event-log", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.GetEventLogInfo(r.Context(), &EventLogInfoRequest{})
			writeResult(w, resp, err)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// submitHandler takes the command payload as the request body.
func submitHandler(svc LedgerServer) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
			return
		}
		if len(body) > maxCommandBody {
			writeError(w, status.Error(codes.ResourceExhausted, "command body too large"))
			return
		}
		resp, err := svc.Submit(r.Context(), &SubmitRequest{CommandType: p["command_type"], Payload: body})
		writeResult(w, resp, err)
	}
}

func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	var limit int
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
		limit = n
	}
	var before *int64
	if s := q.Get("before_sequence"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "before_sequence: %v", err)
		}
		before = &n
	}
	return limit, before, nil
}

func writeResult(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
