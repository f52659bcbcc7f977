package pubsub

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWSForwardsTopic(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h.ServeWS("priceUpdate", nil))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Subscribers("priceUpdate") == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish("priceUpdate", map[string]any{"symbol": "BTC-USD", "price": "1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"symbol":"BTC-USD","price":"1"}`, string(msg))
}

func TestServeWSInbound(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	got := make(chan string, 1)
	srv := httptest.NewServer(h.ServeWS("chat", func(r *http.Request, msg []byte) error {
		got <- string(msg)
		return nil
	}))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hi"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, `{"text":"hi"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame not delivered")
	}
}

func TestServeWSInboundErrorReply(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h.ServeWS("chat", func(r *http.Request, msg []byte) error {
		return errors.New("rejected")
	}))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "rejected", frame.Error)
}

func TestServeWSUnsubscribesOnDisconnect(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h.ServeWS("t", nil))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Subscribers("t") == 1 },
		time.Second, 5*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return h.Subscribers("t") == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestServeWSRejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h.ServeWS("t", nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, h.Subscribers("t"))
}
