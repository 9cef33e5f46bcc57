// Package client implements the calling side of the agent protocol:
// JSON-RPC 2.0 over HTTP with pooled connections, bounded retries for
// transient transport failures, and SSE streaming.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/observability"
	"github.com/tandemflow/tandem/pkg/pool"
)

// Config holds client retry and timing knobs.
type Config struct {
	// MaxRetries bounds transport-level retries per call. Only transient
	// failures (timeouts, connect errors, 5xx, 429) are retried.
	MaxRetries int

	// BaseBackoff is the first retry delay; subsequent delays double.
	BaseBackoff time.Duration

	// Metrics, when set, records connection acquisitions and occupancy.
	Metrics *observability.Metrics
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
}

// Client talks the agent protocol to remote endpoints over a shared
// connection pool. Safe for concurrent use.
type Client struct {
	cfg  Config
	pool *pool.Pool
}

// New creates a protocol client on top of the given connection pool.
func New(p *pool.Pool, cfg Config) *Client {
	cfg.SetDefaults()
	return &Client{cfg: cfg, pool: p}
}

// Send delivers the envelope with message/send and returns the response
// envelope. Transient failures are retried with exponential backoff up
// to MaxRetries; application-level errors from the remote are never
// retried.
func (c *Client) Send(ctx context.Context, endpoint string, env *a2a.Envelope) (*a2a.Envelope, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := c.sendOnce(ctx, endpoint, env)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) sendOnce(ctx context.Context, endpoint string, env *a2a.Envelope) (*a2a.Envelope, error) {
	conn, err := c.acquire(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	healthy := true
	defer func() { c.pool.Release(conn, healthy) }()

	body, status, err := c.post(ctx, conn, a2a.MethodMessageSend, env)
	if err != nil {
		healthy = false
		return nil, a2a.NewProtocolError(a2a.ErrTimeout, endpoint, "request failed", err)
	}
	if status != http.StatusOK {
		if status >= 500 || status == http.StatusTooManyRequests {
			return nil, a2a.NewProtocolError(a2a.ErrTimeout, endpoint,
				fmt.Sprintf("server returned HTTP %d", status), nil)
		}
		return nil, a2a.NewProtocolError(a2a.ErrRemote, endpoint,
			fmt.Sprintf("server returned HTTP %d", status), nil)
	}

	var rpcResp a2a.Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, a2a.NewProtocolError(a2a.ErrMalformed, endpoint, "failed to decode response frame", err)
	}
	if rpcResp.Error != nil {
		return nil, a2a.NewProtocolError(a2a.ErrRemote, endpoint,
			fmt.Sprintf("remote error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message), nil)
	}

	result, err := decodeEnvelope(endpoint, rpcResp.Result)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(endpoint, result); err != nil {
		return nil, err
	}
	return result, nil
}

// StreamResult is one item of a streaming call: an envelope chunk or a
// terminal error. After an item with Err != nil the channel is closed.
type StreamResult struct {
	Envelope *a2a.Envelope
	Err      error
}

// Stream delivers the envelope with message/stream and returns a channel
// of response chunks. The channel is closed when the stream ends; a
// mid-stream failure is delivered as the final item. Streaming calls are
// never retried.
func (c *Client) Stream(ctx context.Context, endpoint string, env *a2a.Envelope) (<-chan StreamResult, error) {
	conn, err := c.acquire(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	req, err := c.newRequest(ctx, conn, a2a.MethodMessageStream, env)
	if err != nil {
		c.pool.Release(conn, true)
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := conn.HTTPClient().Do(req)
	if err != nil {
		c.pool.Release(conn, false)
		return nil, a2a.NewProtocolError(a2a.ErrTimeout, endpoint, "stream request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.pool.Release(conn, true)
		kind := a2a.ErrRemote
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = a2a.ErrTimeout
		}
		return nil, a2a.NewProtocolError(kind, endpoint,
			fmt.Sprintf("server returned HTTP %d", resp.StatusCode), nil)
	}

	out := make(chan StreamResult)
	go c.readStream(ctx, endpoint, conn, resp.Body, out)
	return out, nil
}

// readStream parses SSE frames ("event:" / "data:" lines separated by a
// blank line) and forwards decoded envelopes. Owns the connection and
// the response body.
func (c *Client) readStream(ctx context.Context, endpoint string, conn *pool.Conn, body io.ReadCloser, out chan<- StreamResult) {
	healthy := true
	defer func() {
		body.Close()
		c.pool.Release(conn, healthy)
		close(out)
	}()

	emit := func(r StreamResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := bufio.NewReader(body)
	var data bytes.Buffer
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			switch {
			case len(line) == 0:
				// Blank line terminates a frame.
				if data.Len() > 0 {
					env, decErr := decodeEnvelope(endpoint, data.Bytes())
					data.Reset()
					if decErr != nil {
						emit(StreamResult{Err: decErr})
						return
					}
					if vErr := checkVersion(endpoint, env); vErr != nil {
						emit(StreamResult{Err: vErr})
						return
					}
					if !emit(StreamResult{Envelope: env}) {
						healthy = false
						return
					}
				}
			case bytes.HasPrefix(line, []byte("data:")):
				data.Write(bytes.TrimSpace(line[len("data:"):]))
			default:
				// "event:" and comment lines carry no payload.
			}
		}
		if err != nil {
			if err != io.EOF {
				healthy = false
				emit(StreamResult{Err: a2a.NewProtocolError(a2a.ErrTimeout, endpoint, "stream interrupted", err)})
			}
			return
		}
	}
}

func (c *Client) acquire(ctx context.Context, endpoint string) (*pool.Conn, error) {
	conn, err := c.pool.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	c.cfg.Metrics.PoolAcquired()
	c.cfg.Metrics.PoolInUse(c.pool.InUse(endpoint))
	return conn, nil
}

func (c *Client) newRequest(ctx context.Context, conn *pool.Conn, method string, env *a2a.Envelope) (*http.Request, error) {
	frame := a2a.NewRequest(uuid.New().String(), method, env)
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) post(ctx context.Context, conn *pool.Conn, method string, env *a2a.Envelope) ([]byte, int, error) {
	req, err := c.newRequest(ctx, conn, method, env)
	if err != nil {
		return nil, 0, err
	}
	resp, err := conn.HTTPClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.BaseBackoff << (attempt - 1)
	// Full jitter keeps concurrent retries from thundering in step.
	delay = time.Duration(rand.Int64N(int64(delay)) + int64(delay)/2)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeEnvelope(endpoint string, raw []byte) (*a2a.Envelope, error) {
	if len(raw) == 0 {
		return nil, a2a.NewProtocolError(a2a.ErrMalformed, endpoint, "empty result", nil)
	}
	var env a2a.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a2a.NewProtocolError(a2a.ErrMalformed, endpoint, "failed to decode envelope", err)
	}
	if env.MessageID == "" {
		return nil, a2a.NewProtocolError(a2a.ErrMalformed, endpoint, "envelope missing messageId", nil)
	}
	return &env, nil
}

// checkVersion rejects envelopes advertising an incompatible protocol
// version. Envelopes that advertise no version are accepted.
func checkVersion(endpoint string, env *a2a.Envelope) error {
	v := env.Version()
	if v != "" && v != a2a.ProtocolVersion {
		return a2a.NewProtocolError(a2a.ErrVersionMismatch, endpoint,
			fmt.Sprintf("remote speaks protocol %s, want %s", v, a2a.ProtocolVersion), nil)
	}
	return nil
}

// isTransient reports whether the failure may succeed on retry.
func isTransient(err error) bool {
	var perr *a2a.ProtocolError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	var exhausted *pool.PoolExhaustedError
	return errors.As(err, &exhausted)
}
