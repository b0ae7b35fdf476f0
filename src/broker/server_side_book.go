package broker

import (
	"sort"
	"strings"
	"sync"

	"github.com/jiaming2012/broker-bridge/src/models"
)

const (
	protectiveStopLoss   = "sl"
	protectiveTakeProfit = "tp"
	protectiveTagPrefix  = "protect"
)

// ServerSideBook holds limit and stop orders that this engine triggers itself.
type ServerSideBook struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func (b *ServerSideBook) Hold(order *models.Order) error {
	if order.Type != models.OrderTypeLimit && order.Type != models.OrderTypeStop {
		return ErrUnsupportedOrderType
	}

	if order.Price <= 0 {
		return ErrInvalidPrice
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders[order.UserID] = order.Clone()
	return nil
}

func (b *ServerSideBook) Cancel(userID string) (*models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[userID]
	if !ok {
		return nil, false
	}

	delete(b.orders, userID)
	return order, true
}

func (b *ServerSideBook) Get(userID string) (*models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[userID]
	if !ok {
		return nil, false
	}

	return order.Clone(), true
}

func (b *ServerSideBook) Update(userID string, fn func(order *models.Order)) (*models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[userID]
	if !ok {
		return nil, false
	}

	fn(order)
	return order.Clone(), true
}

func isTriggered(order *models.Order, price float64) bool {
	switch order.Type {
	case models.OrderTypeLimit:
		if order.Side == models.SideBuy {
			return price <= order.Price
		}
		return price >= order.Price
	case models.OrderTypeStop:
		if order.Side == models.SideBuy {
			return price >= order.Price
		}
		return price <= order.Price
	}

	return false
}

// Triggered removes and returns the held orders on symbol that price triggers.
// When a protective order triggers, its sibling is cancelled and returned in cancelled.
func (b *ServerSideBook) Triggered(symbol string, price float64) (triggered []*models.Order, cancelled []*models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parents := map[string]bool{}
	for id, order := range b.orders {
		if order.Symbol != symbol || !isTriggered(order, price) {
			continue
		}

		parent, _, isProtective := ParseProtectiveTag(order.Tag)
		if isProtective && parents[parent] {
			continue
		}

		if isProtective {
			parents[parent] = true
		}

		triggered = append(triggered, order)
		delete(b.orders, id)
	}

	for id, order := range b.orders {
		if parent, _, ok := ParseProtectiveTag(order.Tag); ok && parents[parent] {
			cancelled = append(cancelled, order)
			delete(b.orders, id)
		}
	}

	sortByPlaced(triggered)
	sortByPlaced(cancelled)

	return triggered, cancelled
}

// ByParent returns the protective orders held for parentID.
func (b *ServerSideBook) ByParent(parentID string) []*models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []*models.Order
	for _, order := range b.orders {
		if parent, _, ok := ParseProtectiveTag(order.Tag); ok && parent == parentID {
			result = append(result, order.Clone())
		}
	}

	sortByPlaced(result)
	return result
}

func (b *ServerSideBook) All() []*models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]*models.Order, 0, len(b.orders))
	for _, order := range b.orders {
		result = append(result, order.Clone())
	}

	sortByPlaced(result)
	return result
}

func (b *ServerSideBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = make(map[string]*models.Order)
}

func sortByPlaced(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].PlacedDate.Equal(orders[j].PlacedDate) {
			return orders[i].UserID < orders[j].UserID
		}
		return orders[i].PlacedDate.Before(orders[j].PlacedDate)
	})
}

func NewServerSideBook() *ServerSideBook {
	return &ServerSideBook{
		orders: make(map[string]*models.Order),
	}
}

func protectiveTag(parentID, kind string) string {
	return strings.Join([]string{protectiveTagPrefix, parentID, kind}, ":")
}

// ParseProtectiveTag returns the parent id and kind ("sl" or "tp") of a protective order tag.
func ParseProtectiveTag(tag string) (parentID string, kind string, ok bool) {
	parts := strings.Split(tag, ":")
	if len(parts) != 3 || parts[0] != protectiveTagPrefix {
		return "", "", false
	}

	return parts[1], parts[2], true
}

// StopLossPrice is below the fill for a long entry and above it for a short entry.
func StopLossPrice(parent *models.Order, offset float64) float64 {
	return parent.AvgFillPrice - parent.Side.Sign()*offset
}

func TakeProfitPrice(parent *models.Order, offset float64) float64 {
	return parent.AvgFillPrice + parent.Side.Sign()*offset
}

// NewProtectiveOrders builds the server-side stop loss and take profit legs of a filled order.
func NewProtectiveOrders(parent *models.Order) []*models.Order {
	var legs []*models.Order

	if parent.SLOffset != nil {
		sl := models.NewOrder(parent.AccountID, parent.Symbol, parent.Side.Opposite(), models.OrderTypeStop, models.TimeInForceGoodTilCancelled, parent.FilledQuantity, StopLossPrice(parent, *parent.SLOffset))
		sl.ServerSide = true
		sl.Tag = protectiveTag(parent.UserID, protectiveStopLoss)
		legs = append(legs, sl)
	}

	if parent.TPOffset != nil {
		tp := models.NewOrder(parent.AccountID, parent.Symbol, parent.Side.Opposite(), models.OrderTypeLimit, models.TimeInForceGoodTilCancelled, parent.FilledQuantity, TakeProfitPrice(parent, *parent.TPOffset))
		tp.ServerSide = true
		tp.Tag = protectiveTag(parent.UserID, protectiveTakeProfit)
		legs = append(legs, tp)
	}

	return legs
}
