package polladapter

import (
	"context"
	"time"

	"github.com/jiaming2012/broker-bridge/src/broker"
)

const MarginWallet = "margin"

// OrderSnapshot is one open order as the venue reports it, in the rest dialect.
type OrderSnapshot struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	TimeInForce    string    `json:"time_in_force"`
	Status         string    `json:"status"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	Time           time.Time `json:"time"`
}

// changed reports whether the venue moved the order since prev was seen.
func (s OrderSnapshot) changed(prev OrderSnapshot) bool {
	return s.Quantity != prev.Quantity || s.FilledQuantity != prev.FilledQuantity || s.Status != prev.Status || s.Price != prev.Price
}

type Trade struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Time       time.Time `json:"time"`
}

type MarginPosition struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	Margin       float64 `json:"margin"`
	Profit       float64 `json:"profit"`
}

// Balance is one asset bucket. Wallet names the bucket kind, e.g. "spot" or "margin".
type Balance struct {
	Wallet string  `json:"wallet"`
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

type AccountSummary struct {
	AccountID string  `json:"account_id"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Margin    float64 `json:"margin"`
	Profit    float64 `json:"profit"`
}

type OrderRequest struct {
	ClientID    string  `json:"client_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	TimeInForce string  `json:"time_in_force"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price,omitempty"`
}

type VenueRestClient interface {
	Login(ctx context.Context, creds broker.Credentials) error
	GetOpenOrders(ctx context.Context) ([]OrderSnapshot, error)
	GetMarginPositions(ctx context.Context) ([]MarginPosition, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetAccountSummary(ctx context.Context) (AccountSummary, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderSnapshot, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderTrades(ctx context.Context, symbol, orderID string) ([]Trade, error)
}
