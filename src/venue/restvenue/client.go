package restvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/polladapter"
	"github.com/jiaming2012/broker-bridge/src/utils"
)

const DefaultTimeout = 10 * time.Second

var errNotLoggedIn = errors.New("not logged in")

// Client talks to a request/response venue over HTTP. Every response body is an
// envelope parsed by utils.ParseEnvelope.
type Client struct {
	baseURL string
	http    *http.Client
	mu      sync.RWMutex
	token   string
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// do sends the request and classifies non-2xx responses into the broker error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, auth bool) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, query.Encode())
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	if auth {
		token := c.bearer()
		if token == "" {
			return nil, broker.NewTransientSessionError(errNotLoggedIn, true)
		}

		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	log.Tracef("%s %s", method, req.URL.String())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, broker.NewTransientSessionError(fmt.Errorf("%s %s: %w", method, path, err), false)
	}

	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, broker.NewTransientSessionError(fmt.Errorf("failed to read response body: %w", err), false)
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return respBody, nil
	case res.StatusCode == http.StatusUnauthorized:
		return nil, broker.NewAuthenticationError(fmt.Errorf("%s %s: %s", method, path, res.Status))
	case res.StatusCode == http.StatusForbidden:
		return nil, broker.NewTransientSessionError(fmt.Errorf("%s %s: %s", method, path, res.Status), true)
	case res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnprocessableEntity:
		if dto, err := utils.ParseEnvelopeOne[ErrorDTO](respBody); err == nil {
			return nil, &broker.VenueRejection{Code: dto.Code, Reason: dto.Message}
		}

		return nil, &broker.VenueRejection{Reason: string(respBody)}
	}

	return nil, broker.NewTransientSessionError(fmt.Errorf("%s %s: %s: %s", method, path, res.Status, string(respBody)), false)
}

func (c *Client) Login(ctx context.Context, creds broker.Credentials) error {
	if creds.Token != "" {
		c.mu.Lock()
		c.token = creds.Token
		c.mu.Unlock()
		return nil
	}

	body := map[string]string{
		"api_key":    creds.APIKey,
		"api_secret": creds.APISecret,
		"account_id": creds.AccountID,
	}

	bytes, err := c.do(ctx, http.MethodPost, "/v1/session", nil, body, false)
	if err != nil {
		return fmt.Errorf("Client.Login: %w", err)
	}

	session, err := utils.ParseEnvelopeOne[SessionDTO](bytes)
	if err != nil {
		return fmt.Errorf("Client.Login: failed to parse response body: %w", err)
	}

	if session.Token == "" {
		return broker.NewAuthenticationError(fmt.Errorf("venue returned an empty session token"))
	}

	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()

	return nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]polladapter.OrderSnapshot, error) {
	bytes, err := c.do(ctx, http.MethodGet, "/v1/orders/open", nil, nil, true)
	if err != nil {
		return nil, fmt.Errorf("Client.GetOpenOrders: %w", err)
	}

	dtos, err := utils.ParseEnvelope[OrderDTO](bytes)
	if err != nil {
		return nil, fmt.Errorf("Client.GetOpenOrders: failed to parse response body: %w", err)
	}

	snapshots := make([]polladapter.OrderSnapshot, 0, len(dtos))
	for _, dto := range dtos {
		snapshot, err := dto.ToSnapshot()
		if err != nil {
			log.Errorf("Client.GetOpenOrders: skipping order: %v", err)
			continue
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (c *Client) GetMarginPositions(ctx context.Context) ([]polladapter.MarginPosition, error) {
	bytes, err := c.do(ctx, http.MethodGet, "/v1/margin/positions", nil, nil, true)
	if err != nil {
		return nil, fmt.Errorf("Client.GetMarginPositions: %w", err)
	}

	dtos, err := utils.ParseEnvelope[PositionDTO](bytes)
	if err != nil {
		return nil, fmt.Errorf("Client.GetMarginPositions: failed to parse response body: %w", err)
	}

	positions := make([]polladapter.MarginPosition, 0, len(dtos))
	for _, dto := range dtos {
		p, err := dto.ToMarginPosition()
		if err != nil {
			return nil, fmt.Errorf("Client.GetMarginPositions: %w", err)
		}

		positions = append(positions, p)
	}

	return positions, nil
}

func (c *Client) GetBalances(ctx context.Context) ([]polladapter.Balance, error) {
	bytes, err := c.do(ctx, http.MethodGet, "/v1/balances", nil, nil, true)
	if err != nil {
		return nil, fmt.Errorf("Client.GetBalances: %w", err)
	}

	dtos, err := utils.ParseEnvelope[BalanceDTO](bytes)
	if err != nil {
		return nil, fmt.Errorf("Client.GetBalances: failed to parse response body: %w", err)
	}

	balances := make([]polladapter.Balance, 0, len(dtos))
	for _, dto := range dtos {
		b, err := dto.ToBalance()
		if err != nil {
			return nil, fmt.Errorf("Client.GetBalances: %w", err)
		}

		balances = append(balances, b)
	}

	return balances, nil
}

func (c *Client) GetAccountSummary(ctx context.Context) (polladapter.AccountSummary, error) {
	bytes, err := c.do(ctx, http.MethodGet, "/v1/account", nil, nil, true)
	if err != nil {
		return polladapter.AccountSummary{}, fmt.Errorf("Client.GetAccountSummary: %w", err)
	}

	dto, err := utils.ParseEnvelopeOne[AccountDTO](bytes)
	if err != nil {
		return polladapter.AccountSummary{}, fmt.Errorf("Client.GetAccountSummary: failed to parse response body: %w", err)
	}

	return dto.ToAccountSummary()
}

func (c *Client) PlaceOrder(ctx context.Context, req polladapter.OrderRequest) (polladapter.OrderSnapshot, error) {
	bytes, err := c.do(ctx, http.MethodPost, "/v1/orders", nil, NewPlaceOrderDTO(req), true)
	if err != nil {
		return polladapter.OrderSnapshot{}, fmt.Errorf("Client.PlaceOrder: %w", err)
	}

	dto, err := utils.ParseEnvelopeOne[OrderDTO](bytes)
	if err != nil {
		return polladapter.OrderSnapshot{}, fmt.Errorf("Client.PlaceOrder: failed to parse response body: %w", err)
	}

	return dto.ToSnapshot()
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	query := url.Values{}
	query.Add("symbol", symbol)

	if _, err := c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), query, nil, true); err != nil {
		return fmt.Errorf("Client.CancelOrder: %w", err)
	}

	return nil
}

func (c *Client) GetOrderTrades(ctx context.Context, symbol, orderID string) ([]polladapter.Trade, error) {
	query := url.Values{}
	query.Add("symbol", symbol)

	bytes, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/trades", query, nil, true)
	if err != nil {
		return nil, fmt.Errorf("Client.GetOrderTrades: %w", err)
	}

	dtos, err := utils.ParseEnvelope[TradeDTO](bytes)
	if err != nil {
		return nil, fmt.Errorf("Client.GetOrderTrades: failed to parse response body: %w", err)
	}

	trades := make([]polladapter.Trade, 0, len(dtos))
	for _, dto := range dtos {
		trade, err := dto.ToTrade()
		if err != nil {
			return nil, fmt.Errorf("Client.GetOrderTrades: %w", err)
		}

		trades = append(trades, trade)
	}

	return trades, nil
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

var _ polladapter.VenueRestClient = (*Client)(nil)
