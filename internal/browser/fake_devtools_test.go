package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// handlerFunc answers one call. Returning ok=false leaves the call
// unanswered.
type handlerFunc func(method string, params json.RawMessage) (result any, perr *ProtocolError, ok bool)

// fakeDevTools is a minimal DevTools endpoint. Every request is answered
// on its own goroutine so handlers may block.
type fakeDevTools struct {
	t       *testing.T
	srv     *httptest.Server
	handle  handlerFunc
	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	calls   []string
}

func newFakeDevTools(t *testing.T, h handlerFunc) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{t: t, handle: h}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		for {
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.calls = append(f.calls, req.Method)
			f.mu.Unlock()
			go f.answer(conn, req.ID, req.Method, req.Params)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevTools) answer(conn *websocket.Conn, id int64, method string, params json.RawMessage) {
	result, perr, ok := f.handle(method, params)
	if !ok {
		return
	}
	msg := map[string]any{"id": id}
	if perr != nil {
		msg["error"] = perr
	} else {
		if result == nil {
			result = map[string]any{}
		}
		msg["result"] = result
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteJSON(msg)
}

// emit sends an event to the connected client.
func (f *fakeDevTools) emit(method string, params any) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(f.t, conn)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	require.NoError(f.t, conn.WriteJSON(map[string]any{"method": method, "params": params}))
}

func (f *fakeDevTools) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeDevTools) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(f.srv.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// evalValue wraps v as a Runtime.evaluate result.
func evalValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "object", "value": v}}
}

// expression extracts the evaluated expression from Runtime.evaluate params.
func expression(params json.RawMessage) string {
	var p struct {
		Expression string `json:"expression"`
	}
	_ = json.Unmarshal(params, &p)
	return p.Expression
}
