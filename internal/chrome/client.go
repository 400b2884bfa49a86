package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
)

// SupportedProtocolMajor is the DevTools protocol major version this client speaks.
const SupportedProtocolMajor = "1"

// Options configures a connection.
type Options struct {
	DialTimeout time.Duration // bound on reaching the endpoint and the handshake
	CallTimeout time.Duration // ceiling on every individual call
	Logger      logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	return o
}

// Client is a DevTools protocol connection to one browser.
type Client struct {
	conn        *websocket.Conn
	wsURL       string
	callTimeout time.Duration
	log         logrus.FieldLogger

	writeMu    sync.Mutex
	nextID     atomic.Int64
	pending    map[int64]chan reply
	pendingMu  sync.Mutex
	handlers   map[string][]chan json.RawMessage // key: "sessionID:method"
	handlersMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
}

type reply struct {
	Result json.RawMessage
	Error  *ProtocolError
}

type request struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type message struct {
	ID        int64           `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Dial connects to a debugging endpoint and verifies its protocol version.
// The endpoint is either a ws:// URL or a host:port whose /json/version
// document names the browser's websocket URL.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	logger := log.For(opts.Logger, log.CategoryTransport)

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	wsURL, err := resolveEndpoint(dialCtx, endpoint)
	if err != nil {
		return nil, dialError(ctx, endpoint, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, dialError(ctx, wsURL, err)
	}

	c := &Client{
		conn:        conn,
		wsURL:       wsURL,
		callTimeout: opts.CallTimeout,
		log:         logger,
		pending:     make(map[int64]chan reply),
		handlers:    make(map[string][]chan json.RawMessage),
		closeCh:     make(chan struct{}),
	}
	go c.readMessages()

	if err := c.checkProtocol(dialCtx); err != nil {
		c.Close()
		return nil, err
	}

	logger.WithField("url", wsURL).Debug("connected")
	return c, nil
}

func resolveEndpoint(ctx context.Context, endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+endpoint+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading version document: %w", err)
	}
	wsURL := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if wsURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in version document")
	}
	return wsURL, nil
}

func dialError(ctx context.Context, target string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fault.Wrap(err, fault.Interrupted, "connecting to %s", target)
	}
	return fault.Wrap(err, fault.TransportUnavailable, "connecting to %s", target)
}

func (c *Client) checkProtocol(ctx context.Context) error {
	v, err := c.Version(ctx)
	if err != nil {
		return fault.Wrap(err, fault.TransportUnavailable, "handshake with %s", c.wsURL)
	}
	major, _, _ := strings.Cut(v.ProtocolVersion, ".")
	if major != SupportedProtocolMajor {
		return fault.New(fault.ProtocolVersionMismatch,
			"endpoint speaks protocol %q (%s), want %s.x", v.ProtocolVersion, v.Browser, SupportedProtocolMajor)
	}
	return nil
}

// Version returns the browser's version information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	result, err := c.Call(ctx, "Browser.getVersion", nil)
	if err != nil {
		return nil, err
	}
	return &VersionInfo{
		Browser:         gjson.GetBytes(result, "product").String(),
		ProtocolVersion: gjson.GetBytes(result, "protocolVersion").String(),
		UserAgent:       gjson.GetBytes(result, "userAgent").String(),
		V8Version:       gjson.GetBytes(result, "jsVersion").String(),
	}, nil
}

// WebSocketURL returns the websocket URL of this connection.
func (c *Client) WebSocketURL() string {
	return c.wsURL
}

// Done is closed once the connection is gone, whether by Close or by the
// browser going away.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// Close releases the connection. It is safe to call more than once and from
// several goroutines; every pending call is woken with a SessionDead error.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
	return err
}

// Call sends a browser-level command and waits for its reply.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, "", method, params)
}

// CallSession sends a command to an attached target session.
func (c *Client) CallSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, sessionID, method, params)
}

func (c *Client) send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errClosed(method)
	}

	req := request{
		ID:        c.nextID.Add(1),
		SessionID: sessionID,
		Method:    method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		req.Params = data
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	ch := make(chan reply, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		if c.closed.Load() {
			return nil, errClosed(method)
		}
		return nil, fault.Wrap(err, fault.SessionDead, "sending %s", method)
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, errClosed(method)
		}
		if r.Error != nil {
			return nil, fault.Wrap(r.Error, fault.CommandRejected, "%s", method)
		}
		return r.Result, nil
	case <-c.closeCh:
		return nil, errClosed(method)
	case <-ctx.Done():
		return nil, contextError(ctx, method)
	}
}

func errClosed(method string) error {
	return fault.Wrap(ErrConnectionClosed, fault.SessionDead, "%s", method)
}

// contextError classifies an expired or cancelled wait.
func contextError(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Wrap(ctx.Err(), fault.CommandTimeout, "%s", what)
	}
	return fault.Wrap(ctx.Err(), fault.Interrupted, "%s", what)
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() {
				c.log.WithError(err).Debug("connection lost")
			}
			return
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				ch <- reply{Result: msg.Result, Error: msg.Error}
			}
			c.pendingMu.Unlock()
			continue
		}

		if msg.Method != "" {
			key := msg.SessionID + ":" + msg.Method
			c.handlersMu.Lock()
			for _, h := range c.handlers[key] {
				select {
				case h <- msg.Params:
				default:
					c.log.WithField("event", key).Debug("event dropped, subscriber full")
				}
			}
			c.handlersMu.Unlock()
		}
	}
}

// subscribe registers for events of method on sessionID. Events published
// before the call are not delivered.
func (c *Client) subscribe(sessionID, method string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 100)
	key := sessionID + ":" + method

	c.handlersMu.Lock()
	c.handlers[key] = append(c.handlers[key], ch)
	c.handlersMu.Unlock()

	return ch
}

func (c *Client) unsubscribe(sessionID, method string, ch chan json.RawMessage) {
	key := sessionID + ":" + method

	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	handlers := c.handlers[key]
	for i, h := range handlers {
		if h == ch {
			c.handlers[key] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}
