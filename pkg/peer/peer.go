// Package peer uploads contributed relays to an upstream relayd and tracks
// whether that upstream is reachable.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/contribute"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"

	// TokenHeader carries the peer token on uploads.
	TokenHeader = "X-Relay-Token"

	relaysPath = "/v1/relays"
	healthPath = "/admin/health"
)

type Options struct {
	Endpoint       string
	Token          string
	Format         string
	Timeout        time.Duration
	HealthInterval time.Duration
	// Dial overrides the client's dialer.
	Dial fasthttp.DialFunc
}

// Client is a contribute.Sender speaking the relayd upload API.
type Client struct {
	endpoint string
	token    string
	format   string
	timeout  time.Duration
	interval time.Duration
	http     *fasthttp.Client

	connected atomic.Bool
	sent      atomic.Uint64
	failed    atomic.Uint64
}

var _ contribute.Sender = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Endpoint == "" {
		panic("peer.New: Endpoint is empty; ensure config.ValidateConfig() applied defaults")
	}
	if opts.Timeout <= 0 || opts.HealthInterval <= 0 {
		panic("peer.New: Timeout and HealthInterval must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		token:    opts.Token,
		format:   format,
		timeout:  opts.Timeout,
		interval: opts.HealthInterval,
		http: &fasthttp.Client{
			Name:         "relayd-peer",
			Dial:         opts.Dial,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
	}
}

// Connected reports the outcome of the last upload or probe.
func (c *Client) Connected() bool { return c.connected.Load() }

// Sent returns the number of relays accepted by the upstream.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// Failed returns the number of relays in failed uploads.
func (c *Client) Failed() uint64 { return c.failed.Load() }

// SendBatch uploads rs in one request.
func (c *Client) SendBatch(ctx context.Context, rs []relay.Relay) error {
	if len(rs) == 0 {
		return nil
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	contentType, err := c.encode(buf, relay.Batch{Relays: relay.WrapAll(rs)})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(c.endpoint + relaysPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	req.SetBody(buf.B)

	if err := c.do(ctx, req, resp); err != nil {
		c.failed.Add(uint64(len(rs)))
		c.setConnected(false, err)
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		c.failed.Add(uint64(len(rs)))
		err := fmt.Errorf("upload rejected: status %d: %s", code, strings.TrimSpace(string(resp.Body())))
		// a 4xx means the upstream is up but refused this batch
		c.setConnected(code < 500, err)
		return err
	}
	c.sent.Add(uint64(len(rs)))
	c.setConnected(true, nil)
	return nil
}

// Probe checks the upstream health endpoint.
func (c *Client) Probe(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(c.endpoint + healthPath)
	req.Header.SetMethod(fasthttp.MethodGet)

	err := c.do(ctx, req, resp)
	if err == nil && resp.StatusCode() != fasthttp.StatusOK {
		err = fmt.Errorf("health check: status %d", resp.StatusCode())
	}
	c.setConnected(err == nil, err)
	return err
}

// Run probes the upstream every HealthInterval until ctx is done.
func (c *Client) Run(ctx context.Context) {
	_ = c.Probe(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Probe(ctx)
		}
	}
}

func (c *Client) encode(buf *bytebufferpool.ByteBuffer, b relay.Batch) (string, error) {
	if c.format == FormatCBOR {
		return "application/cbor", relay.CBOR.NewEncoder(buf).Encode(b)
	}
	return "application/json", json.NewEncoder(buf).Encode(b)
}

// do runs req with the tighter of the client timeout and the ctx deadline.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	err := c.http.DoTimeout(req, resp, timeout)
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, fasthttp.ErrTimeout) || errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("peer %s: %w", c.endpoint, context.DeadlineExceeded)
	}
	return fmt.Errorf("peer %s: %w", c.endpoint, err)
}

func (c *Client) setConnected(on bool, err error) {
	if c.connected.Swap(on) != on {
		if on {
			logger.Info("peer_connected", "endpoint", c.endpoint)
		} else {
			logger.Warn("peer_disconnected", "endpoint", c.endpoint, "error", err)
		}
	}
}
