package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the timestamp exchange on one peer
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient creates a client for addr. The connection is established
// lazily on the first call.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Addr returns the peer address
func (c *Client) Addr() string {
	return c.addr
}

// Ingest sends one event to the peer
func (c *Client) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	resp := new(IngestResponse)
	if err := c.conn.Invoke(ctx, ingestMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status fetches the peer's clock snapshot
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	if err := c.conn.Invoke(ctx, statusMethod, &StatusRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}
