package broker

import (
	"sort"
	"sync"

	"github.com/jiaming2012/broker-bridge/src/models"
)

// OrderTable holds an adapter's orders keyed by client id. Reads return copies.
type OrderTable struct {
	mu      sync.RWMutex
	orders  map[string]*models.Order
	byVenue map[string]string
}

func (t *OrderTable) Upsert(order *models.Order) *models.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.put(order.Clone())

	return order.Clone()
}

func (t *OrderTable) put(order *models.Order) {
	order.ReconcileQuantity()
	t.orders[order.UserID] = order
	if id := order.GetBrokerID(); id != "" {
		t.byVenue[id] = order.UserID
	}
}

func (t *OrderTable) Get(userID string) (*models.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	order, ok := t.orders[userID]
	if !ok {
		return nil, false
	}

	return order.Clone(), true
}

func (t *OrderTable) GetByBrokerID(brokerID string) (*models.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	userID, ok := t.byVenue[brokerID]
	if !ok {
		return nil, false
	}

	return t.orders[userID].Clone(), true
}

// Update applies fn under the table lock and returns a copy of the result.
func (t *OrderTable) Update(userID string, fn func(order *models.Order) error) (*models.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.orders[userID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	working := order.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	t.put(working)

	return working.Clone(), nil
}

func (t *OrderTable) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if order, ok := t.orders[userID]; ok {
		delete(t.byVenue, order.GetBrokerID())
		delete(t.orders, userID)
	}
}

func (t *OrderTable) All() []*models.Order {
	return t.filter(func(*models.Order) bool { return true })
}

func (t *OrderTable) Open() []*models.Order {
	return t.filter(func(o *models.Order) bool { return o.IsActive() })
}

func (t *OrderTable) filter(keep func(*models.Order) bool) []*models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*models.Order, 0, len(t.orders))
	for _, o := range t.orders {
		if keep(o) {
			result = append(result, o.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].PlacedDate.Equal(result[j].PlacedDate) {
			return result[i].UserID < result[j].UserID
		}

		return result[i].PlacedDate.Before(result[j].PlacedDate)
	})

	return result
}

func (t *OrderTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.orders = make(map[string]*models.Order)
	t.byVenue = make(map[string]string)
}

func NewOrderTable() *OrderTable {
	return &OrderTable{
		orders:  make(map[string]*models.Order),
		byVenue: make(map[string]string),
	}
}
