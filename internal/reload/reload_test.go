package reload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/devserver/internal/invalidation"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *httptest.Server, context.CancelFunc) {
	t.Helper()
	b := New("reloader", "Reload", []string{"main.js"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	t.Cleanup(srv.Close)
	return b, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcaster_BroadcastsFixedMessageOnTriggerMatch(t *testing.T) {
	b, srv, cancel := newTestBroadcaster(t)
	defer cancel()

	conn := dial(t, srv)
	time.Sleep(20 * time.Millisecond) // let registration land

	bus := invalidation.New(4)
	sub := bus.Subscribe("reload")
	go func() { _ = b.ConsumeInvalidations(context.Background(), sub) }()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), invalidation.NewEvent(invalidation.Modified, "/client/main.js")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Reload", string(msg))
}

func TestBroadcaster_IgnoresNonMatchingPaths(t *testing.T) {
	b, srv, cancel := newTestBroadcaster(t)
	defer cancel()

	conn := dial(t, srv)
	time.Sleep(20 * time.Millisecond)

	bus := invalidation.New(4)
	sub := bus.Subscribe("reload")
	go func() { _ = b.ConsumeInvalidations(context.Background(), sub) }()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), invalidation.NewEvent(invalidation.Modified, "/client/style.css")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "a non-matching path must not trigger a reload message")
}

func TestBroadcaster_NegotiatesConfiguredSubprotocol(t *testing.T) {
	_, srv, cancel := newTestBroadcaster(t)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{"reloader"}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "reloader", resp.Header.Get("Sec-Websocket-Protocol"))
}
