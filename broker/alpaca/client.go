// Package alpaca is the Alpaca v2 trading API adapter: REST for account,
// orders, positions and fills, plus the trade_updates stream for pushed
// order status.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/retry"
)

const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"
)

// BaseURL maps an environment name to the trading host.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "paper":
		return PaperURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown alpaca env %q (want paper|live)", env)
	}
}

type Client struct {
	BaseURL   string
	KeyID     string
	SecretKey string
	HTTP      *http.Client
	Policy    retry.Policy
}

func NewClient(baseURL, keyID, secret string, policy retry.Policy) *Client {
	if baseURL == "" {
		baseURL = PaperURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		KeyID:     keyID,
		SecretKey: secret,
		HTTP:      &http.Client{},
		Policy:    policy,
	}
}

var _ broker.Broker = (*Client)(nil)

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do sends one request and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &broker.APIError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb apiErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Message
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// call retries do under the client's policy.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	_, err := retry.Do(ctx, c.Policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, op, method, path, query, body, out)
	})
	return err
}

func isStatus(err error, status int) bool {
	var apiErr *broker.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	var w wireAccount
	if err := c.call(ctx, "get account", http.MethodGet, "/v2/account", nil, nil, &w); err != nil {
		return broker.Account{}, err
	}
	return w.account(), nil
}

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	q := url.Values{}
	q.Set("status", "open")
	q.Set("limit", "500")
	if symbol != "" {
		q.Set("symbols", symbol)
	}
	var ws []wireOrder
	if err := c.call(ctx, "list orders", http.MethodGet, "/v2/orders", q, nil, &ws); err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.order())
	}
	return out, nil
}

// SubmitOrder posts the order and retries transient failures with the same
// client order id. When a retry is refused as a duplicate the earlier
// attempt went through, so that order is returned.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	body := newWireOrderRequest(req)
	attempts := 0
	o, err := retry.Do(ctx, c.Policy, func(ctx context.Context) (broker.Order, error) {
		attempts++
		var w wireOrder
		err := c.do(ctx, "submit order", http.MethodPost, "/v2/orders", nil, body, &w)
		if err != nil {
			return broker.Order{}, err
		}
		return w.order(), nil
	})
	if err != nil && attempts > 1 && req.ClientOrderID != "" && isStatus(err, http.StatusUnprocessableEntity) {
		if prior, gerr := c.GetOrderByClientID(ctx, req.ClientOrderID); gerr == nil {
			return prior, nil
		}
	}
	return o, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (broker.Order, error) {
	var w wireOrder
	err := c.call(ctx, "get order", http.MethodGet, "/v2/orders/"+url.PathEscape(id), nil, nil, &w)
	if isStatus(err, http.StatusNotFound) {
		return broker.Order{}, fmt.Errorf("get order %s: %w", id, broker.ErrOrderNotFound)
	}
	if err != nil {
		return broker.Order{}, err
	}
	return w.order(), nil
}

func (c *Client) GetOrderByClientID(ctx context.Context, clientID string) (broker.Order, error) {
	q := url.Values{}
	q.Set("client_order_id", clientID)
	var w wireOrder
	if err := c.call(ctx, "get order by client id", http.MethodGet, "/v2/orders:by_client_order_id", q, nil, &w); err != nil {
		return broker.Order{}, err
	}
	return w.order(), nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	err := c.call(ctx, "cancel order", http.MethodDelete, "/v2/orders/"+url.PathEscape(id), nil, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("cancel order %s: %w", id, broker.ErrOrderNotFound)
	}
	return err
}

// GetPosition addresses crypto positions without the slash ("BTCUSD").
func (c *Client) GetPosition(ctx context.Context, symbol string) (broker.Position, error) {
	var w wirePosition
	path := "/v2/positions/" + url.PathEscape(strings.ReplaceAll(symbol, "/", ""))
	err := c.call(ctx, "get position", http.MethodGet, path, nil, nil, &w)
	if isStatus(err, http.StatusNotFound) {
		return broker.Position{}, fmt.Errorf("get position %s: %w", symbol, broker.ErrNoPosition)
	}
	if err != nil {
		return broker.Position{}, err
	}
	return w.position(), nil
}

func (c *Client) ListPositions(ctx context.Context) ([]broker.Position, error) {
	var ws []wirePosition
	if err := c.call(ctx, "list positions", http.MethodGet, "/v2/positions", nil, nil, &ws); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.position())
	}
	return out, nil
}

// ListFills reads FILL account activities after since.
func (c *Client) ListFills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	q := url.Values{}
	q.Set("direction", "asc")
	q.Set("page_size", "100")
	if !since.IsZero() {
		q.Set("after", since.UTC().Format(time.RFC3339))
	}

	var out []broker.Fill
	for {
		var ws []wireActivity
		if err := c.call(ctx, "list fills", http.MethodGet, "/v2/account/activities/FILL", q, nil, &ws); err != nil {
			return nil, err
		}
		for _, w := range ws {
			out = append(out, w.fill())
		}
		if len(ws) < 100 {
			return out, nil
		}
		q.Set("page_token", ws[len(ws)-1].ID)
	}
}
