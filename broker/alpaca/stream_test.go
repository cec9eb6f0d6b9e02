package alpaca

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

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/logging"
)

var upgrader = websocket.Upgrader{}

// fakeStream authorizes, waits for listen, then sends updates.
func fakeStream(t *testing.T, updates []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil || auth["key"] != "key" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"authorization","data":{"status":"unauthorized"}}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}`))

		var listen map[string]any
		if err := conn.ReadJSON(&listen); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"listening","data":{"streams":["trade_updates"]}}`))
		for _, u := range updates {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte(u))
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamPublishesFills(t *testing.T) {
	srv := fakeStream(t, []string{
		`{"stream":"trade_updates","data":{"event":"new","order":{"id":"o-1","symbol":"ETH/USD","status":"new"}}}`,
		`{"stream":"trade_updates","data":{"event":"fill","order":{"id":"o-1","symbol":"ETH/USD","status":"filled","filled_qty":"2","filled_avg_price":"100.2"}}}`,
	})

	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), "key", "secret", logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	o, err := s.WaitTerminal(wctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, o.Status)
	assert.Equal(t, 100.2, o.FilledAvgPrice)
	assert.Eventually(t, s.Connected, time.Second, 10*time.Millisecond)
}

func TestStreamingClientPollsWhenDisconnected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"o-2","symbol":"ETH/USD","status":"canceled","filled_qty":"0"}`))
	})
	sc := c.WithStream(NewStream("ws://127.0.0.1:1/stream", "key", "secret", logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := sc.WaitTerminal(ctx, "o-2")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCanceled, o.Status)
	assert.False(t, o.Filled())
}
