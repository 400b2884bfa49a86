package chrome

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// fakeEndpoint is an in-process DevTools endpoint. It answers every method
// with an empty result unless a handler is registered, and records calls in
// arrival order.
type fakeEndpoint struct {
	srv      *httptest.Server
	protocol string

	mu       sync.Mutex
	calls    []recordedCall
	handlers map[string]handlerFunc
	conns    []*websocket.Conn
}

type recordedCall struct {
	Method    string
	SessionID string
	Params    gjson.Result
}

type event struct {
	Method string
	Params any
}

// handlerFunc answers one call. Returned events are sent after the reply.
type handlerFunc func(c recordedCall) (result any, perr *ProtocolError, events []event)

// noReply makes the endpoint swallow a call.
var noReply = &ProtocolError{Code: -1, Message: "no reply"}

// hangUp makes the endpoint drop the connection instead of replying.
var hangUp = &ProtocolError{Code: -2, Message: "hang up"}

func newFakeEndpoint(t *testing.T) *fakeEndpoint {
	t.Helper()

	f := &fakeEndpoint{
		protocol: "1.3",
		handlers: map[string]handlerFunc{},
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "FakeChrome/1.0",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		f.serve(conn)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

// addr returns the host:port of the endpoint.
func (f *fakeEndpoint) addr() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeEndpoint) handle(method string, h handlerFunc) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

// reply registers a fixed result for method.
func (f *fakeEndpoint) reply(method string, result any) {
	f.handle(method, func(recordedCall) (any, *ProtocolError, []event) {
		return result, nil, nil
	})
}

// callsTo returns the recorded calls of one method.
func (f *fakeEndpoint) callsTo(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEndpoint) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req := gjson.ParseBytes(data)
		c := recordedCall{
			Method:    req.Get("method").String(),
			SessionID: req.Get("sessionId").String(),
			Params:    req.Get("params"),
		}

		f.mu.Lock()
		f.calls = append(f.calls, c)
		h := f.handlers[c.Method]
		f.mu.Unlock()

		var (
			result any = map[string]any{}
			perr   *ProtocolError
			events []event
		)
		switch {
		case h != nil:
			result, perr, events = h(c)
		case c.Method == "Browser.getVersion":
			result = map[string]string{"product": "FakeChrome/1.0", "protocolVersion": f.protocol}
		}

		switch perr {
		case noReply:
			continue
		case hangUp:
			conn.Close()
			return
		}

		msg := map[string]any{"id": req.Get("id").Int()}
		if c.SessionID != "" {
			msg["sessionId"] = c.SessionID
		}
		if perr != nil {
			msg["error"] = perr
		} else {
			msg["result"] = result
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		for _, ev := range events {
			if err := conn.WriteJSON(map[string]any{
				"method":    ev.Method,
				"params":    ev.Params,
				"sessionId": c.SessionID,
			}); err != nil {
				return
			}
		}
	}
}
