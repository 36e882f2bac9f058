package rpc

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client calls a remote experiment service.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the experiment gRPC server at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close is then a no-op.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region calls
func (c *Client) invoke(ctx context.Context, name string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", name, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, req, out); err != nil {
		return nil, fmt.Errorf("%s rpc: %w", name, err)
	}
	return out.AsMap(), nil
}

// Update sends one period and returns the resulting snapshot fields.
func (c *Client) Update(ctx context.Context, b engine.Batch) (map[string]any, error) {
	return c.invoke(ctx, "Update", map[string]any{
		"label":      b.Label,
		"events_a":   b.A.Events,
		"exposure_a": b.A.Exposure,
		"events_b":   b.B.Events,
		"exposure_b": b.B.Exposure,
	})
}

// Decide asks for a verdict. Nil thresholds select the server defaults.
func (c *Client) Decide(ctx context.Context, t *gate.Thresholds) (map[string]any, error) {
	return c.invoke(ctx, "Decide", thresholdFields(t))
}

// History returns every snapshot, prior first.
func (c *Client) History(ctx context.Context) ([]map[string]any, error) {
	out, err := c.invoke(ctx, "History", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["snapshots"].([]any)
	snaps := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			snaps = append(snaps, m)
		}
	}
	return snaps, nil
}

// State returns the cumulative posterior parameters and totals.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, "State", nil)
}

// Report returns the rendered text report.
func (c *Client) Report(ctx context.Context, t *gate.Thresholds) (string, error) {
	out, err := c.invoke(ctx, "Report", thresholdFields(t))
	if err != nil {
		return "", err
	}
	text, _ := out["text"].(string)
	return text, nil
}

// Reset discards the remote history and returns the new experiment ID.
func (c *Client) Reset(ctx context.Context) (string, error) {
	out, err := c.invoke(ctx, "Reset", nil)
	if err != nil {
		return "", err
	}
	id, _ := out["experiment_id"].(string)
	return id, nil
}

func thresholdFields(t *gate.Thresholds) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	return map[string]any{"probability": t.Probability, "min_uplift": t.MinUplift}
}

// #endregion calls
