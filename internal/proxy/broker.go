package proxy

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout bounds one proxied HTTP request. Expiry is failure,
	// never an indefinite hang.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Request describes one proxied outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response is the structured result of a proxied call.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// JSON parses the body. gjson tolerates non-JSON bodies by returning a
// zero result, which callers treat as a malformed response.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Invoker is the renderer-facing capability surface.
type Invoker interface {
	// Sign computes a request signature with the plugin's shared
	// secret. The secret itself never crosses to the renderer side.
	Sign(ctx context.Context, params map[string]string) (string, error)

	// Do performs an outbound HTTP request on the host's network stack.
	Do(ctx context.Context, req Request) (*Response, error)
}

// Broker is the host side of the proxy channel. It owns plugin signing
// secrets and the outbound HTTP client. Safe for concurrent use.
type Broker struct {
	mu      sync.RWMutex
	secrets map[string]string

	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the logger for request diagnostics.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

// WithBrokerTimeout overrides the per-request timeout.
func WithBrokerTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) BrokerOption {
	return func(b *Broker) {
		if c != nil {
			b.client = c
		}
	}
}

// NewBroker creates a broker with no registered secrets.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		secrets: make(map[string]string),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterSecret stores a plugin's signing secret host-side. An empty
// secret unregisters.
func (b *Broker) RegisterSecret(plugin, secret string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if secret == "" {
		delete(b.secrets, plugin)
		return
	}
	b.secrets[plugin] = secret
}

// Client returns the renderer-side handle for one (plugin, context)
// pair. done is the owning context's done channel; a nil done never
// expires.
func (b *Broker) Client(plugin string, done <-chan struct{}) *Client {
	return &Client{
		broker: b,
		plugin: plugin,
		done:   done,
		log:    b.log.With("plugin", plugin),
	}
}

// sign computes the signature for the plugin's registered secret.
func (b *Broker) sign(plugin string, params map[string]string) (string, error) {
	b.mu.RLock()
	secret, ok := b.secrets[plugin]
	b.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("sign for %q: %w", plugin, ErrNoSecret)
	}
	return Signature(params, secret), nil
}

// Signature implements the audioscrobbler signing scheme: parameters
// concatenated as key+value in key order, the shared secret appended,
// the whole MD5-hashed to lowercase hex.
func Signature(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb bytes.Buffer
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	sb.WriteString(secret)

	sum := md5.Sum(sb.Bytes())
	return hex.EncodeToString(sum[:])
}

// do performs one proxied request under the broker's timeout.
func (b *Broker) do(ctx context.Context, plugin string, req Request) (*Response, error) {
	id := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("proxy request %s: %w", id, err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		b.log.Debug("proxy request failed",
			"plugin", plugin, "request", id, "url", req.URL, "error", err)
		return nil, fmt.Errorf("proxy request %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("proxy request %s: read body: %w", id, err)
	}

	b.log.Debug("proxy request done",
		"plugin", plugin, "request", id, "url", req.URL,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
