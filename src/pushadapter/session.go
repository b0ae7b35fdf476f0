package pushadapter

import (
	"context"
	"time"

	"github.com/kataras/go-events"

	"github.com/jiaming2012/broker-bridge/src/broker"
)

type StreamKind string

const (
	StreamAccount   StreamKind = "account"
	StreamOrder     StreamKind = "order"
	StreamExecution StreamKind = "execution"
	StreamPosition  StreamKind = "position"
	StreamOrderBook StreamKind = "orderbook"
)

type StreamSpec struct {
	Kind   StreamKind `json:"kind"`
	Symbol string     `json:"symbol,omitempty"`
}

// Events emitted by a VenueSession. Each listener receives a single payload
// of the matching type below.
const (
	EventOrderChanged        events.EventName = "OrderChanged"
	EventExecuted            events.EventName = "Executed"
	EventPositionChanged     events.EventName = "PositionChanged"
	EventAccountStateUpdated events.EventName = "AccountStateUpdated"
	EventQuote               events.EventName = "Quote"
	EventDisconnected        events.EventName = "Disconnected"
)

var sessionEvents = []events.EventName{
	EventOrderChanged,
	EventExecuted,
	EventPositionChanged,
	EventAccountStateUpdated,
	EventQuote,
	EventDisconnected,
}

// OrderUpdate carries cumulative quantities in the venue's session dialect.
type OrderUpdate struct {
	ClientID       string    `json:"client_id"`
	VenueID        string    `json:"venue_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	TimeInForce    string    `json:"time_in_force"`
	Status         string    `json:"status"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	RejectCode     string    `json:"reject_code,omitempty"`
	RejectReason   string    `json:"reject_reason,omitempty"`
	Time           time.Time `json:"time"`
}

type Execution struct {
	ID                 string    `json:"id"`
	ClientID           string    `json:"client_id"`
	VenueID            string    `json:"venue_id"`
	Symbol             string    `json:"symbol"`
	Quantity           float64   `json:"quantity"`
	Price              float64   `json:"price"`
	CumulativeQuantity float64   `json:"cumulative_quantity"`
	AvgPrice           float64   `json:"avg_price"`
	Time               time.Time `json:"time"`
}

type PositionUpdate struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	Margin       float64 `json:"margin"`
	Profit       float64 `json:"profit"`
}

type AccountState struct {
	AccountID       string  `json:"account_id"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	Margin          float64 `json:"margin"`
	Profit          float64 `json:"profit"`
	IsMarginAccount bool    `json:"is_margin_account"`
}

type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Bid > 0:
		return q.Bid
	}

	return q.Ask
}

type Disconnected struct {
	Reason string `json:"reason"`
}

type OrderRequest struct {
	ClientID    string   `json:"client_id"`
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Type        string   `json:"type"`
	TimeInForce string   `json:"time_in_force"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price,omitempty"`
	SLOffset    *float64 `json:"sl_offset,omitempty"`
	TPOffset    *float64 `json:"tp_offset,omitempty"`
}

type Connector interface {
	Login(ctx context.Context, creds broker.Credentials) (VenueSession, error)
}

// VenueSession is one authenticated push session. Place calls return the venue order id.
type VenueSession interface {
	Subscribe(ctx context.Context, spec StreamSpec) error
	Events() events.EventEmmiter
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceStopOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, venueID string) error
	AmendStops(ctx context.Context, venueID string, sl, tp *float64) error
	GetAccountState(ctx context.Context) (AccountState, error)
	Close() error
}
