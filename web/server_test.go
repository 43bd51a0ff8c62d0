package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
	"github.com/mbocsi/gobridge/rpccall"
)

type rpcCall struct {
	function string
	args     []any
}

type fakeBridge struct {
	connected bool
	sent      []proto.Message
	rpcs      []rpcCall
}

func (f *fakeBridge) Status() bridge.Status {
	s := bridge.Status{State: bridge.Disconnected, Protocol: "tcp", Addr: "127.0.0.1:9000", Events: []string{"player_input"}}
	if f.connected {
		s.State = bridge.Connected
		s.Epoch = "epoch-1"
		s.ConnectedAt = time.Now()
	}
	return s
}

func (f *fakeBridge) Send(_ context.Context, msg proto.Message) error {
	if !f.connected {
		return bridge.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBridge) RPC(_ context.Context, function string, args ...any) error {
	if !f.connected {
		return bridge.ErrNotConnected
	}
	f.rpcs = append(f.rpcs, rpcCall{function, args})
	return nil
}

type fakeCaller struct {
	result any
	err    error
}

func (f fakeCaller) Call(context.Context, string, ...any) (any, error) {
	return f.result, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	b := &fakeBridge{connected: true}
	h := NewServer(b, nil, nil, nil).Routes()

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "connected", got["state"])
	assert.Equal(t, "epoch-1", got["epoch"])
	assert.Equal(t, []any{"player_input"}, got["events"])
}

func TestHome(t *testing.T) {
	h := NewServer(&fakeBridge{connected: true}, nil, nil, nil).Routes()

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bridge connected")
	assert.Contains(t, rec.Body.String(), "player_input")
}

func TestRPC(t *testing.T) {
	b := &fakeBridge{connected: true}
	h := NewServer(b, nil, nil, nil).Routes()

	rec := do(t, h, http.MethodPost, "/rpc", `{"function":"play_animation","args":["/root/Avatar","wave",0.5]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []rpcCall{{"play_animation", []any{"/root/Avatar", "wave", 0.5}}}, b.rpcs)

	rec = do(t, h, http.MethodPost, "/rpc", `{"function":"wave"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, b.rpcs, 2)
}

func TestRPC_BadInput(t *testing.T) {
	h := NewServer(&fakeBridge{connected: true}, nil, nil, nil).Routes()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/rpc", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/rpc", `{"args":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/rpc", `{"function":"f","wait":true}`).Code)
}

func TestRPC_NotConnected(t *testing.T) {
	h := NewServer(&fakeBridge{}, nil, nil, nil).Routes()
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/rpc", `{"function":"wave"}`).Code)
}

func TestRPC_Wait(t *testing.T) {
	b := &fakeBridge{connected: true}
	h := NewServer(b, fakeCaller{result: []any{"idle"}}, nil, nil).Routes()

	rec := do(t, h, http.MethodPost, "/rpc", `{"function":"get_animation_list","args":["/root/Avatar"],"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"function":"get_animation_list","result":["idle"]}`, rec.Body.String())

	h = NewServer(b, fakeCaller{err: &rpccall.TimeoutError{Function: "f", After: time.Second}}, nil, nil).Routes()
	assert.Equal(t, http.StatusGatewayTimeout, do(t, h, http.MethodPost, "/rpc", `{"function":"f","wait":true}`).Code)

	h = NewServer(b, fakeCaller{err: &rpccall.RemoteError{Function: "f", Message: "boom"}}, nil, nil).Routes()
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/rpc", `{"function":"f","wait":true}`).Code)
}

func TestSend(t *testing.T) {
	b := &fakeBridge{connected: true}
	h := NewServer(b, nil, nil, nil).Routes()

	rec := do(t, h, http.MethodPost, "/send", `{"type":"character_spoke","text":"hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, b.sent, 1)
	assert.Equal(t, "hi", b.sent[0].String("text"))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/send", `{"text":"no type"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/send", `null`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/send", `[1,2]`).Code)

	b.connected = false
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/send", `{"type":"x"}`).Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	bridge.NewMetrics(reg, "gobridge")
	h := NewServer(&fakeBridge{}, nil, reg, nil).Routes()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gobridge_connection_state")

	noMetrics := NewServer(&fakeBridge{}, nil, nil, nil).Routes()
	assert.Equal(t, http.StatusNotFound, do(t, noMetrics, http.MethodGet, "/metrics", "").Code)
}
