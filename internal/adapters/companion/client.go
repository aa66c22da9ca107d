// Package companion is the client of the companion process that keeps a
// connection to the game network and answers match data queries.
//
// Calls are JSON frames over one websocket, correlated by request id:
//
//	-> {"id": "...", "method": "getServerId", "params": {...}}
//	<- {"id": "...", "result": {...}}
//	<- {"id": "...", "error": {"code": "not_ready", "message": "..."}}
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotabod/backend-sub002/internal/domain/match"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

// Methods understood by the companion.
const (
	MethodServerID   = "getServerId"
	MethodMatchStats = "getMatchStats"
)

const (
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 20 * time.Second
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Client implements match.Source over the companion websocket.
//
// Gorilla/websocket supports one concurrent writer, so writes are
// serialized through writeMu.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
	log     logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	gone    chan struct{}
	pending map[string]chan response
	closed  bool

	writeMu sync.Mutex
}

var _ match.Source = (*Client)(nil)

// NewClient creates a client for the companion at url. It connects lazily.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: 10 * time.Second,
		pending: make(map[string]chan response),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("companion")
	}
	return c
}

// ResolveServerID returns the game server hosting accountID's live match.
func (c *Client) ResolveServerID(ctx context.Context, accountID string) (string, error) {
	var out struct {
		ServerID string `json:"serverId"`
	}
	if err := c.call(ctx, MethodServerID, map[string]string{"accountId": accountID}, &out); err != nil {
		return "", err
	}
	return out.ServerID, nil
}

// FetchMatchStats returns the server-side view of matchID.
func (c *Client) FetchMatchStats(ctx context.Context, matchID, serverID string) (match.Stats, error) {
	var out match.Stats
	err := c.call(ctx, MethodMatchStats, map[string]string{"matchId": matchID, "serverId": serverID}, &out)
	return out, err
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps the connection up until ctx ends, redialing with exponential
// backoff after each drop.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		_, gone, err := c.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			wait := b.NextBackOff()
			c.log.Warn(ctx, "companion dial failed", logger.Error(err), logger.Duration("retryIn", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		select {
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-gone:
		}
	}
}

// Close disconnects and fails every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn, ErrClosed)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, _, err := c.connect(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	err = conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var resp response
	select {
	case resp = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, method)
	}

	if resp.Error != nil {
		if resp.Error.Code == codeDisconnected {
			return fmt.Errorf("%w: %s", ErrDisconnected, resp.Error.Message)
		}
		return classify(resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// classify maps companion answers onto the resolver's retry semantics.
func classify(e *RPCError) error {
	switch e.Code {
	case CodeNotReady:
		return fmt.Errorf("%w: %w", match.ErrNotReady, e)
	case CodeNotFound:
		return fmt.Errorf("%w: %w", match.ErrUnavailable, e)
	default:
		return e
	}
}

// connect returns the live connection, dialing a new one when needed. The
// dial runs without c.mu so Connected and in-flight calls are not held up
// by a slow handshake; of two racing dials the first to install wins.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, <-chan struct{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if c.conn != nil {
		conn, gone := c.conn, c.gone
		c.mu.Unlock()
		return conn, gone, nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %v", ErrDisconnected, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, nil, ErrClosed
	}
	if c.conn != nil {
		cur, gone := c.conn, c.gone
		c.mu.Unlock()
		_ = conn.Close()
		return cur, gone, nil
	}
	c.conn = conn
	c.gone = make(chan struct{})
	gone := c.gone
	c.mu.Unlock()

	c.log.Info(ctx, "companion connected", logger.String("url", c.url))
	go c.readLoop(conn)
	go c.pingLoop(conn, gone)
	return conn, gone, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.log.Warn(context.Background(), "skipping malformed companion frame", logger.Error(err))
				continue
			}
			c.drop(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.log.Debug(context.Background(), "response without caller", logger.String("id", resp.ID))
			continue
		}
		deliver(ch, resp)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			c.writeMu.Unlock()
			if err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}

// drop retires conn and fails the calls waiting on it.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.gone)
	waiting := c.pending
	c.pending = make(map[string]chan response)
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn(context.Background(), "companion disconnected", logger.Error(cause), logger.Int("pending", len(waiting)))
	for id, ch := range waiting {
		deliver(ch, response{ID: id, Error: &RPCError{Code: codeDisconnected, Message: cause.Error()}})
	}
}

// deliver hands resp to a waiting call; each call takes one answer.
func deliver(ch chan response, resp response) {
	select {
	case ch <- resp:
	default:
	}
}
