package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"BlueLedger/internal/core"
	"BlueLedger/internal/ingestion"
	"BlueLedger/internal/query"
	"BlueLedger/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	ownerHex = "0x0000000000000000000000000000000000000a01"
	aliceHex = "0x0000000000000000000000000000000000000a02"
)

type fixture struct {
	seq  *core.Sequencer
	deps *server.ServerDeps
	next int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := core.DefaultOptions()
	opts.Owner = common.HexToAddress(ownerHex)
	c := core.NewDeterministicCore(opts, nil, nil, nil, nil)

	seq := core.NewSequencer(c, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{
		seq: seq,
		deps: &server.ServerDeps{
			QueryService:  query.NewQueryService(nil, seq, nil),
			IngestService: ingestion.NewGRPCIngestService(seq),
			Logger:        zerolog.Nop(),
		},
	}
}

// enableLltv builds an enable_lltv payload with the next global sequence.
func (f *fixture) enableLltv(caller string) string {
	s := fmt.Sprintf(`{"idempotency_key":"lltv-%d","source_sequence":%d,"timestamp":1700000000,"caller":"%s","lltv":"800000000000000000"}`,
		f.next, f.next, caller)
	f.next++
	return s
}

func TestGatewaySubmit(t *testing.T) {
	f := newFixture(t)
	mux, err := server.NewGatewayMux(server.NewLedgerService(f.deps))
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/commands/enable_lltv", "application/json", strings.NewReader(f.enableLltv(ownerHex)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body server.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Accepted)
	require.Equal(t, "enable_lltv", body.CommandType)
	require.Len(t, body.Records, 1)
}

func TestGatewayErrorCodes(t *testing.T) {
	f := newFixture(t)
	mux, err := server.NewGatewayMux(server.NewLedgerService(f.deps))
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"not owner", http.MethodPost, "/v1/commands/enable_lltv", f.enableLltv(aliceHex), http.StatusForbidden},
		{"flash loan over the wire", http.MethodPost, "/v1/commands/flash_loan", `{}`, http.StatusBadRequest},
		{"unknown command", http.MethodPost, "/v1/commands/open_position", `{}`, http.StatusBadRequest},
		{"short market id", http.MethodGet, "/v1/markets/0x01", "", http.StatusBadRequest},
		{"unknown market", http.MethodGet, "/v1/markets/0x" + strings.Repeat("ab", 32), "", http.StatusNotFound},
		{"bad user", http.MethodGet, "/v1/markets/0x" + strings.Repeat("ab", 32) + "/positions/nobody", "", http.StatusBadRequest},
		{"history without database", http.MethodGet, "/v1/records", "", http.StatusServiceUnavailable},
		{"bad limit", http.MethodGet, "/v1/records?limit=x", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	f := newFixture(t)

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	g.RegisterService(&server.ServiceDesc, server.NewLedgerService(f.deps))
	go g.Serve(lis)
	defer g.Stop()

	client, err := server.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	resp, err := client.Submit(ctx, "enable_lltv", json.RawMessage(f.enableLltv(ownerHex)))
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	_, err = client.GetMarket(ctx, "0x"+strings.Repeat("cd", 32))
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.VerifyIntegrity(ctx)
	require.Equal(t, codes.Unavailable, status.Code(err))
}
