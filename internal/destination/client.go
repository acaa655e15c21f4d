package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const (
	gatewayNamespace       = "gateway"
	checkpointsTopic       = "checkpoints"
	methodLatestCheckpoint = "gateway_latestCheckpoint"
	methodRedirect         = "gateway_redirect"
)

type Config struct {
	Timeout time.Duration
}

// Client talks to the destination gateway: the checkpoint feed and the redirect service.
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Dial connects to the gateway. The checkpoint feed needs a websocket or IPC endpoint.
func Dial(ctx context.Context, addr string) (*rpc.Client, error) {
	c, err := rpc.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial destination gateway %s: %w", addr, err)
	}
	return c, nil
}

func NewClient(client *rpc.Client, cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		rpc:     client,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// SubscribeCheckpoints streams the gateway's checkpoint announcements into sink.
func (c *Client) SubscribeCheckpoints(ctx context.Context, sink chan<- relay.Checkpoint) (relay.Subscription, error) {
	sub, err := c.rpc.Subscribe(ctx, gatewayNamespace, sink, checkpointsTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", checkpointsTopic, err)
	}
	return sub, nil
}

func (c *Client) LatestCheckpoint(ctx context.Context) (relay.Checkpoint, error) {
	var cp relay.Checkpoint
	if err := c.call(ctx, &cp, methodLatestCheckpoint); err != nil {
		return relay.Checkpoint{}, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// Redirect hands a proof to the redirect service. Errors classified by the service are returned
// as *relay.RedirectError; anything else is a transport error.
func (c *Client) Redirect(ctx context.Context, req relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
	var receipt relay.DeliveryReceipt
	if err := c.call(ctx, &receipt, methodRedirect, req); err != nil {
		if rerr := asRedirectError(err); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("failed to redirect message %s: %w", req.IdempotencyKey, err)
	}
	return &receipt, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rpc.CallContext(callCtx, result, method, args...); err != nil {
		metrics.AddFailedRequest(method, time.Since(start).Seconds())
		c.logger.Debug("gateway call failed", zap.String("method", method), zap.Error(err))
		return err
	}
	metrics.AddSuccessRequest(method, time.Since(start).Seconds())
	return nil
}

func asRedirectError(err error) *relay.RedirectError {
	var derr rpc.DataError
	if !errors.As(err, &derr) || derr.ErrorData() == nil {
		return nil
	}

	raw, merr := json.Marshal(derr.ErrorData())
	if merr != nil {
		return nil
	}
	var rerr relay.RedirectError
	if json.Unmarshal(raw, &rerr) != nil || rerr.Kind == "" {
		return nil
	}
	return &rerr
}
