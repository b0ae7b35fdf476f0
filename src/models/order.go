package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const quantityEpsilon = 1e-9

type Order struct {
	UserID            string      `json:"user_id"`
	BrokerID          *string     `json:"broker_id,omitempty"`
	AccountID         string      `json:"account_id"`
	Symbol            string      `json:"symbol"`
	Side              Side        `json:"side"`
	Type              OrderType   `json:"type"`
	TimeInForce       TimeInForce `json:"time_in_force"`
	Quantity          float64     `json:"quantity"`
	Price             float64     `json:"price"`
	FilledQuantity    float64     `json:"filled_quantity"`
	CancelledQuantity float64     `json:"cancelled_quantity"`
	OpenQuantity      float64     `json:"open_quantity"`
	AvgFillPrice      float64     `json:"avg_fill_price"`
	SLOffset          *float64    `json:"sl_offset,omitempty"`
	TPOffset          *float64    `json:"tp_offset,omitempty"`
	ServerSide        bool        `json:"server_side"`
	Status            OrderStatus `json:"status"`
	RejectReason      string      `json:"reject_reason,omitempty"`
	Tag               string      `json:"tag,omitempty"`
	PlacedDate        time.Time   `json:"placed_date"`
	FilledDate        *time.Time  `json:"filled_date,omitempty"`
}

func (o *Order) String() string {
	brokerID := "<nil>"
	if o.BrokerID != nil {
		brokerID = *o.BrokerID
	}

	return fmt.Sprintf("Order %s (broker %s): %s %s %.4f %s @ %.4f, filled %.4f, cancelled %.4f, open %.4f, status %s", o.UserID, brokerID, o.Side, o.Type, o.Quantity, o.Symbol, o.Price, o.FilledQuantity, o.CancelledQuantity, o.OpenQuantity, o.Status)
}

func (o *Order) SignedQuantity() float64 {
	return o.Side.Sign() * o.Quantity
}

func (o *Order) IsActive() bool {
	return o.Status.IsTradingAllowed() && o.OpenQuantity > quantityEpsilon
}

func (o *Order) GetBrokerID() string {
	if o.BrokerID == nil {
		return ""
	}

	return *o.BrokerID
}

func (o *Order) SetBrokerID(id string) {
	o.BrokerID = &id
}

// CheckQuantities verifies Quantity >= FilledQuantity + CancelledQuantity + OpenQuantity.
func (o *Order) CheckQuantities() error {
	if o.FilledQuantity+o.CancelledQuantity+o.OpenQuantity > o.Quantity+quantityEpsilon {
		return fmt.Errorf("%w: %s", ErrQuantityInvariant, o)
	}

	return nil
}

// ReconcileQuantity raises Quantity when a venue reports more filled/cancelled/open
// volume than the originally known order quantity.
func (o *Order) ReconcileQuantity() bool {
	total := o.FilledQuantity + o.CancelledQuantity + o.OpenQuantity
	if total > o.Quantity+quantityEpsilon {
		o.Quantity = total
		return true
	}

	return false
}

func (o *Order) ApplyFill(quantity, price float64, at time.Time) error {
	if !o.Status.IsTradingAllowed() {
		return ErrOrderNotActive
	}

	if quantity <= 0 {
		return ErrInvalidFillQuantity
	}

	if price <= 0 {
		return ErrInvalidFillPrice
	}

	filled := o.FilledQuantity + quantity
	o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + price*quantity) / filled
	o.FilledQuantity = filled
	o.OpenQuantity = math.Max(0, o.OpenQuantity-quantity)

	o.ReconcileQuantity()

	if o.OpenQuantity <= quantityEpsilon {
		o.OpenQuantity = 0
		o.Status = OrderStatusFilled
		o.FilledDate = &at
	} else {
		o.Status = OrderStatusPartiallyFilled
	}

	return nil
}

// AdvanceFills applies a cumulative fill reported by a venue. Reports that do not
// move past the known filled quantity are ignored.
func (o *Order) AdvanceFills(filled, avgPrice float64, at time.Time) bool {
	if filled <= o.FilledQuantity+quantityEpsilon {
		return false
	}

	o.FilledQuantity = filled
	if avgPrice > 0 {
		o.AvgFillPrice = avgPrice
	}

	if filled > o.Quantity {
		o.Quantity = filled
	}

	o.OpenQuantity = math.Max(0, o.Quantity-o.FilledQuantity-o.CancelledQuantity)
	if o.OpenQuantity <= quantityEpsilon {
		o.OpenQuantity = 0
		if o.CancelledQuantity <= quantityEpsilon {
			o.Status = OrderStatusFilled
			if o.FilledDate == nil {
				o.FilledDate = &at
			}
		}
	} else {
		o.Status = OrderStatusPartiallyFilled
	}

	return true
}

// RaiseQuantity grows the order to quantity. The extra volume is open while the
// order can still trade.
func (o *Order) RaiseQuantity(quantity float64) {
	if quantity <= o.Quantity+quantityEpsilon {
		return
	}

	if o.Status.IsTradingAllowed() {
		o.OpenQuantity += quantity - o.Quantity
	}

	o.Quantity = quantity
}

func (o *Order) CancelRemaining() {
	o.CancelledQuantity += o.OpenQuantity
	o.OpenQuantity = 0
	if o.FilledQuantity > 0 && o.FilledQuantity+quantityEpsilon >= o.Quantity {
		o.Status = OrderStatusFilled
		return
	}

	o.Status = OrderStatusCancelled
}

func (o *Order) Reject(reason string) {
	o.CancelledQuantity += o.OpenQuantity
	o.OpenQuantity = 0
	o.Status = OrderStatusRejected
	o.RejectReason = reason
}

func (o *Order) Clone() *Order {
	c := *o

	if o.BrokerID != nil {
		id := *o.BrokerID
		c.BrokerID = &id
	}

	if o.SLOffset != nil {
		sl := *o.SLOffset
		c.SLOffset = &sl
	}

	if o.TPOffset != nil {
		tp := *o.TPOffset
		c.TPOffset = &tp
	}

	if o.FilledDate != nil {
		d := *o.FilledDate
		c.FilledDate = &d
	}

	return &c
}

func NewOrder(accountID, symbol string, side Side, orderType OrderType, tif TimeInForce, quantity, price float64) *Order {
	return &Order{
		UserID:       uuid.New().String(),
		AccountID:    accountID,
		Symbol:       symbol,
		Side:         side,
		Type:         orderType,
		TimeInForce:  tif,
		Quantity:     quantity,
		Price:        price,
		OpenQuantity: quantity,
		Status:       OrderStatusPending,
	}
}
