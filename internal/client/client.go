// Package client is a Go client for the cardengine websocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/ruleset"
	"github.com/lox/cardengine/internal/server"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	signalBuffer = 256
)

var ErrClosed = errors.New("client closed")

// RemoteError is an error reply from the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Category returns the engine error category of the reply.
func (e *RemoteError) Category() engine.Category {
	return engine.Category(e.Code)
}

// Client is one websocket connection acting as a single identity.
type Client struct {
	conn     *websocket.Conn
	identity string
	logger   zerolog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *server.Message
	err     error

	signals   chan server.SignalData
	done      chan struct{}
	closeOnce sync.Once
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	token string
}

// WithToken authenticates the connection with a bearer token. The server
// then decides the identity; an empty identity passed to Dial accepts it.
func WithToken(token string) DialOption {
	return func(o *dialOptions) { o.token = token }
}

// Dial connects to serverURL (http, https, ws or wss) as identity.
func Dial(ctx context.Context, serverURL, identity string, logger zerolog.Logger, opts ...DialOption) (*Client, error) {
	var o dialOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	if identity != "" {
		q.Set("identity", identity)
	}
	u.RawQuery = q.Encode()

	var header http.Header
	if o.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + o.token}}
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		identity: identity,
		logger:   logger.With().Str("component", "client").Str("identity", identity).Logger(),
		pending:  make(map[string]chan *server.Message),
		signals:  make(chan server.SignalData, signalBuffer),
		done:     make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Identity returns the identity the client acts as.
func (c *Client) Identity() string { return c.identity }

// Signals delivers engine signals for watched sessions. It is closed when
// the connection ends.
func (c *Client) Signals() <-chan server.SignalData { return c.signals }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close ends the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.signals)
		close(c.done)
		_ = c.Close()
	}()

	for {
		var msg server.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket error")
			}
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			c.mu.Unlock()
			return
		}

		switch msg.Type {
		case server.TypeSignal:
			var sig server.SignalData
			if err := json.Unmarshal(msg.Data, &sig); err != nil {
				c.logger.Warn().Err(err).Msg("Malformed signal")
				continue
			}
			select {
			case c.signals <- sig:
			default:
				c.logger.Warn().Str("event", sig.Event.String()).Msg("Signal buffer full, dropping signal")
			}

		case server.TypeResult, server.TypeError:
			c.mu.Lock()
			ch, ok := c.pending[msg.RequestID]
			delete(c.pending, msg.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
		}
	}
}

// call sends a request and waits for its reply, decoding a result into out.
func (c *Client) call(ctx context.Context, typ server.MessageType, data, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := server.NewMessage(typ, data)
	if err != nil {
		return err
	}
	msg.RequestID = strconv.FormatUint(c.nextID.Add(1), 10)

	ch := make(chan *server.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[msg.RequestID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(msg.RequestID)
		return fmt.Errorf("write %s: %w", typ, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.err
		}
		if reply.Type == server.TypeError {
			var e server.ErrorData
			if err := json.Unmarshal(reply.Data, &e); err != nil {
				return fmt.Errorf("decode error reply: %w", err)
			}
			return &RemoteError{Code: e.Code, Message: e.Message}
		}
		if out != nil {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", typ, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(msg.RequestID)
		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Create creates a session and watches it.
func (c *Client) Create(ctx context.Context, p engine.CreateParams) (uint64, error) {
	var out server.CreatedData
	err := c.call(ctx, server.TypeCreate, p, &out)
	return out.Session, err
}

// Join takes a seat and returns its index.
func (c *Client) Join(ctx context.Context, session uint64) (int, error) {
	var out server.JoinedData
	err := c.call(ctx, server.TypeJoin, server.SessionRef{Session: session}, &out)
	return out.Seat, err
}

func (c *Client) Start(ctx context.Context, session uint64) error {
	return c.call(ctx, server.TypeStart, server.SessionRef{Session: session}, nil)
}

// Commit commits a move. card is ignored for actions without a card; pass
// engine.NoCard for those.
func (c *Client) Commit(ctx context.Context, session uint64, action ruleset.Action, card int) (string, error) {
	d := server.CommitData{Session: session, Action: action}
	if card != engine.NoCard {
		d.Card = &card
	}
	var out server.CommittedData
	err := c.call(ctx, server.TypeCommit, d, &out)
	return out.RequestID, err
}

func (c *Client) Execute(ctx context.Context, session uint64, action ruleset.Action, extra []byte) error {
	return c.call(ctx, server.TypeExecute, server.ExecuteData{Session: session, Action: action, Extra: extra}, nil)
}

func (c *Client) Forfeit(ctx context.Context, session uint64) error {
	return c.call(ctx, server.TypeForfeit, server.SessionRef{Session: session}, nil)
}

func (c *Client) BootOut(ctx context.Context, session uint64, target int) error {
	return c.call(ctx, server.TypeBootOut, server.BootOutData{Session: session, Target: target}, nil)
}

// Watch subscribes to a session's signals.
func (c *Client) Watch(ctx context.Context, session uint64) error {
	return c.call(ctx, server.TypeWatch, server.SessionRef{Session: session}, nil)
}

func (c *Client) Unwatch(ctx context.Context, session uint64) error {
	return c.call(ctx, server.TypeUnwatch, server.SessionRef{Session: session}, nil)
}

func (c *Client) Session(ctx context.Context, session uint64) (server.SessionData, error) {
	var out server.SessionData
	err := c.call(ctx, server.TypeSession, server.SessionRef{Session: session}, &out)
	return out, err
}

// Player returns a seat. The hand is only included for the caller's own
// seat.
func (c *Client) Player(ctx context.Context, session uint64, index int) (server.PlayerData, error) {
	var out server.PlayerData
	err := c.call(ctx, server.TypePlayer, server.PlayerRef{Session: session, Index: index}, &out)
	return out, err
}

func (c *Client) Players(ctx context.Context, session uint64) ([]server.PlayerData, error) {
	var out []server.PlayerData
	err := c.call(ctx, server.TypePlayers, server.SessionRef{Session: session}, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context) ([]server.SessionData, error) {
	var out []server.SessionData
	err := c.call(ctx, server.TypeSessions, nil, &out)
	return out, err
}
