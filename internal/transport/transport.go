// Package transport implements the client's persistent pub/sub connection
// to the server's event bus (spec.md §4.11): connect with a bearer token,
// subscribe to the two per-user queues, heartbeat, and reconnect on
// disconnect while the caller wants it to keep trying.
//
// Grounded on onedrive-go's go.mod inclusion of github.com/coder/websocket
// for the transport itself, and on the reconnect/backoff shape of
// internal/graph.Client's retry loop (internal/apiclient mirrors that same
// shape for plain HTTP calls). The frame protocol is internal/wire's
// STOMP-like Frame/Encode/ReadFrame.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

// ReconnectDelay is the constant backoff between reconnect attempts
// (spec.md §4.11: "waits 10 s ... constant backoff is acceptable").
const ReconnectDelay = 10 * time.Second

// HeartbeatInterval is how often the client sends a heartbeat frame.
const HeartbeatInterval = 30 * time.Second

// TokenSource supplies the bearer token to present at connect time, and
// lets the caller rotate it.
type TokenSource interface {
	Token() (string, error)
}

// EventHandler receives a decoded sync or conflict event off the socket.
type EventHandler func(event wire.SyncEventDTO)

// ConnectedCallback reports connection state transitions to the UI
// (spec.md §4.11: "a connected: bool callback").
type ConnectedCallback func(connected bool)

// Conn is the client's persistent connection to the server event bus. One
// Conn corresponds to one logical session; Run owns its reconnect loop.
type Conn struct {
	url      string
	clientID string
	token    TokenSource
	logger   *slog.Logger

	onChange    EventHandler
	onConflict  EventHandler
	onConnected ConnectedCallback

	mu              sync.Mutex
	shouldReconnect bool
	ws              *websocket.Conn
	rotate          chan struct{}

	// heartbeatIntervalOverride lets tests shrink HeartbeatInterval; zero
	// means use the default.
	heartbeatIntervalOverride time.Duration
}

// Options configures a new Conn.
type Options struct {
	URL         string
	ClientID    string
	Token       TokenSource
	Logger      *slog.Logger
	OnChange    EventHandler
	OnConflict  EventHandler
	OnConnected ConnectedCallback
}

// New builds a Conn. Call Run to start connecting.
func New(opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		url: opts.URL, clientID: opts.ClientID, token: opts.Token, logger: logger,
		onChange: opts.OnChange, onConflict: opts.OnConflict, onConnected: opts.OnConnected,
		shouldReconnect: true,
		rotate:          make(chan struct{}, 1),
	}
}

// Run drives the connect/subscribe/heartbeat/reconnect loop until ctx is
// cancelled or Stop is called. It returns ctx.Err() once ctx is done, or nil
// when it finds that Stop has been called.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if !c.wantsReconnect() {
			return nil
		}

		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("session transport disconnected", "error", err)
			c.setConnected(false)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.rotate:
			// Token rotation: reconnect immediately with the new token.
			continue
		case <-time.After(ReconnectDelay):
		}
	}
}

// Stop disables future reconnect attempts and closes the active socket, if
// any. Run's current iteration will exit the next time it checks
// wantsReconnect.
func (c *Conn) Stop() {
	c.mu.Lock()
	c.shouldReconnect = false
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "client stopping")
	}
}

// RotateToken wakes the reconnect loop to pick up a freshly refreshed
// token immediately rather than waiting out the current connection.
func (c *Conn) RotateToken() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "token rotated")
	}

	select {
	case c.rotate <- struct{}{}:
	default:
	}
}

func (c *Conn) wantsReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shouldReconnect
}

func (c *Conn) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Conn) setConnected(v bool) {
	if c.onConnected != nil {
		c.onConnected(v)
	}
}

// runOnce performs one full connect-subscribe-serve cycle. It returns when
// the socket closes, normally or otherwise.
func (c *Conn) runOnce(ctx context.Context) error {
	token, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("transport: get token: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	dialURL := c.url + "?client_id=" + url.QueryEscape(c.clientID)

	ws, _, err := websocket.Dial(dialCtx, dialURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + token},
		},
	})
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	c.setConn(ws)
	defer c.setConn(nil)
	defer ws.CloseNow()

	if err := c.subscribe(ctx, ws); err != nil {
		return err
	}

	c.logger.Info("session transport connected", "client_id", c.clientID)
	c.setConnected(true)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 2)

	go func() { errCh <- c.heartbeatLoop(runCtx, ws) }()
	go func() { errCh <- c.readLoop(runCtx, ws) }()

	err = <-errCh
	cancelRun()
	<-errCh

	return err
}

func (c *Conn) subscribe(ctx context.Context, ws *websocket.Conn) error {
	frames := []wire.Frame{
		wire.NewSubscribeFrame("changes", wire.DestFileChanges),
		wire.NewSubscribeFrame("conflicts", wire.DestConflicts),
	}

	for _, f := range frames {
		if err := writeFrame(ctx, ws, f); err != nil {
			return fmt.Errorf("transport: subscribe %s: %w", f.Headers["destination"], err)
		}
	}

	return nil
}

func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) error {
	interval := HeartbeatInterval
	if c.heartbeatIntervalOverride > 0 {
		interval = c.heartbeatIntervalOverride
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f := wire.NewSendFrame(wire.DestHeartbeat, "application/json", []byte(`{"client_id":"`+c.clientID+`"}`))
			if err := writeFrame(ctx, ws, f); err != nil {
				return fmt.Errorf("transport: heartbeat: %w", err)
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}

		f, err := wire.ReadFrame(bufio.NewReader(bytes.NewReader(data)))
		if err != nil {
			c.logger.Warn("transport: malformed frame, dropping", "error", err)
			continue
		}

		if f.Command != wire.CmdMessage {
			continue
		}

		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f wire.Frame) {
	var event wire.SyncEventDTO
	if err := json.Unmarshal(f.Body, &event); err != nil {
		c.logger.Warn("transport: malformed event payload, dropping", "error", err)
		return
	}

	switch f.Headers["destination"] {
	case wire.DestConflicts:
		if c.onConflict != nil {
			c.onConflict(event)
		}
	default:
		if c.onChange != nil {
			c.onChange(event)
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f wire.Frame) error {
	return ws.Write(ctx, websocket.MessageText, f.Encode())
}
