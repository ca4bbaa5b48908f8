package server

import (
	"context"
	"encoding/json"

	"BlueLedger/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a running ledger over gRPC with the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without TLS.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.CallContentSubtype(CodecName))
}

func (c *Client) Submit(ctx context.Context, commandType string, payload json.RawMessage) (*SubmitResponse, error) {
	resp := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", &SubmitRequest{CommandType: commandType, Payload: payload}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetMarket(ctx context.Context, marketID string) (*query.MarketResponse, error) {
	resp := new(query.MarketResponse)
	if err := c.invoke(ctx, "GetMarket", &MarketRequest{MarketID: marketID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetHealth(ctx context.Context, marketID, user string) (*query.HealthResponse, error) {
	resp := new(query.HealthResponse)
	if err := c.invoke(ctx, "GetHealth", &PositionRequest{MarketID: marketID, User: user}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	resp := new(query.IntegrityReport)
	if err := c.invoke(ctx, "VerifyIntegrity", &VerifyIntegrityRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
