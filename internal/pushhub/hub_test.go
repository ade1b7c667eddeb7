package pushhub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/procstore"
)

func newTestServer(hub *Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_SendsInitialFrameOnAttach(t *testing.T) {
	store := procstore.New()
	store.Update([]procmodel.Process{{PID: 1, Name: "foo", Level: procmodel.LevelLOW}})

	hub := New(store)
	srv := newTestServer(hub)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	var f Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "initial", f.Type)
}

func TestHub_SendsDeltaOnStoreChange(t *testing.T) {
	store := procstore.New()
	store.Update([]procmodel.Process{{PID: 1, Name: "foo", Level: procmodel.LevelLOW}})

	hub := New(store)
	srv := newTestServer(hub)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	var initial Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&initial))
	time.Sleep(50 * time.Millisecond) // let the subscriber finish registering with the store

	store.Update([]procmodel.Process{
		{PID: 1, Name: "foo", Level: procmodel.LevelLOW},
		{PID: 2, Name: "bar", Level: procmodel.LevelHIGH},
	})

	var delta Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&delta))
	require.Equal(t, "delta", delta.Type)
}

func TestHub_RejectsConnectionBeyondCap(t *testing.T) {
	store := procstore.New()
	hub := New(store)
	hub.count = MaxConnections

	srv := newTestServer(hub)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
