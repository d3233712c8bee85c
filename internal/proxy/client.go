package proxy

import (
	"context"
	"log/slog"
)

// Client is the renderer side of the proxy channel, bound to one
// (plugin, context) pair. Once the context's done channel closes the
// client refuses new work and drops results from in-flight requests,
// satisfying the rule that replies for torn-down contexts are safely
// ignored.
type Client struct {
	broker *Broker
	plugin string
	done   <-chan struct{}
	log    *slog.Logger
}

var _ Invoker = (*Client)(nil)

// Sign computes a request signature host-side.
func (c *Client) Sign(ctx context.Context, params map[string]string) (string, error) {
	if c.expired() {
		return "", ErrContextGone
	}
	return c.broker.sign(c.plugin, params)
}

// Do performs a proxied HTTP request host-side.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.expired() {
		return nil, ErrContextGone
	}

	resp, err := c.broker.do(ctx, c.plugin, req)

	// The context may have died while the request was in flight; its
	// reply must not reach program code.
	if c.expired() {
		return nil, ErrContextGone
	}
	return resp, err
}

func (c *Client) expired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
