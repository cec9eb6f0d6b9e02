package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/rustyeddy/autotrader/broker"
)

const (
	PaperStreamURL = "wss://paper-api.alpaca.markets/stream"
	LiveStreamURL  = "wss://api.alpaca.markets/stream"
)

// StreamURL derives the trade_updates endpoint from a REST base URL.
func StreamURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/stream"
}

// Stream keeps a trade_updates websocket open and publishes every order
// update into its Tracker.
type Stream struct {
	URL       string
	KeyID     string
	SecretKey string

	ReadTimeout  time.Duration
	PingInterval time.Duration

	tracker   *broker.Tracker
	log       *slog.Logger
	connected atomic.Bool
}

func NewStream(url, keyID, secret string, log *slog.Logger) *Stream {
	return &Stream{
		URL:          url,
		KeyID:        keyID,
		SecretKey:    secret,
		ReadTimeout:  60 * time.Second,
		PingInterval: 20 * time.Second,
		tracker:      broker.NewTracker(1024),
		log:          log.With("component", "alpaca-stream"),
	}
}

// Connected reports whether the stream is authorized and listening.
func (s *Stream) Connected() bool { return s.connected.Load() }

type streamMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type tradeUpdate struct {
	Event string    `json:"event"`
	Order wireOrder `json:"order"`
}

// Run connects and reconnects with backoff until ctx ends.
func (s *Stream) Run(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0

	for {
		start := time.Now()
		err := s.session(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Minute {
			eb.Reset()
		}
		wait := eb.NextBackOff()
		s.log.Warn("trade stream disconnected", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.handshake(conn); err != nil {
		return err
	}
	s.connected.Store(true)
	s.log.Info("trade stream listening")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go s.ping(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		s.handle(raw)
	}
}

func (s *Stream) ping(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(s.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handshake(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	auth := map[string]string{"action": "auth", "key": s.KeyID, "secret": s.SecretKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		var msg streamMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Stream != "authorization" {
			continue
		}
		var a authData
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if a.Status != "authorized" {
			return errors.New("trade stream: not authorized")
		}
		break
	}
	listen := map[string]any{"action": "listen", "data": map[string][]string{"streams": {"trade_updates"}}}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Stream) handle(raw []byte) {
	var msg streamMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("undecodable stream message", "error", err)
		return
	}
	if msg.Stream != "trade_updates" {
		return
	}
	var u tradeUpdate
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		s.log.Debug("undecodable trade update", "error", err)
		return
	}
	o := u.Order.order()
	s.log.Debug("trade update", "event", u.Event, "order_id", o.ID, "symbol", o.Symbol, "status", o.Status)
	s.tracker.Publish(o)
}

// WaitTerminal blocks until the stream reports the order done.
func (s *Stream) WaitTerminal(ctx context.Context, orderID string) (broker.Order, error) {
	return s.tracker.Wait(ctx, orderID)
}

// StreamingClient is a Client whose fills are confirmed over the stream.
type StreamingClient struct {
	*Client
	stream *Stream
}

var (
	_ broker.Broker        = (*StreamingClient)(nil)
	_ broker.OrderStreamer = (*StreamingClient)(nil)
)

func (c *Client) WithStream(s *Stream) *StreamingClient {
	return &StreamingClient{Client: c, stream: s}
}

// SubmitOrder publishes terminal responses so a waiter never misses an
// order that filled before the stream reported it.
func (c *StreamingClient) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	o, err := c.Client.SubmitOrder(ctx, req)
	if err == nil {
		c.stream.tracker.Publish(o)
	}
	return o, err
}

// WaitTerminal falls back to polling GetOrder when the stream is down.
func (c *StreamingClient) WaitTerminal(ctx context.Context, orderID string) (broker.Order, error) {
	if !c.stream.Connected() {
		return c.poll(ctx, orderID)
	}
	return c.stream.WaitTerminal(ctx, orderID)
}

func (c *StreamingClient) poll(ctx context.Context, orderID string) (broker.Order, error) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		o, err := c.GetOrder(ctx, orderID)
		if err == nil && o.Status.Terminal() {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return broker.Order{}, ctx.Err()
		case <-t.C:
		}
	}
}
