package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/pubsub"
	"github.com/jiaming2012/broker-bridge/src/worker"
)

const DefaultReconnectWindow = 60 * time.Second

// Base carries the state every adapter shares: lifecycle, tables, events and
// the rate-limited reconnect path. Adapters embed it.
type Base struct {
	name      string
	stateMu   sync.RWMutex
	state     State
	accountMu sync.RWMutex
	account   models.AccountInfo
	pricesMu  sync.RWMutex
	prices    map[string]float64
	orders    *OrderTable
	positions *PositionTable
	book      *ServerSideBook
	bus       *pubsub.Bus
	limiter   *ReconnectLimiter
	tasks     worker.Group
	reconnect func()
	now       func() time.Time
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	return b.state
}

func (b *Base) SetState(to State) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if err := b.state.validate(to); err != nil {
		return fmt.Errorf("%s.SetState: %w", b.name, err)
	}

	if b.state != to {
		log.Debugf("%s: state %s -> %s", b.name, b.state, to)
	}

	b.state = to
	return nil
}

// CompareAndSetState moves to `to` only when the current state is `from`.
func (b *Base) CompareAndSetState(from, to State) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.state != from || !from.CanTransition(to) {
		return false
	}

	log.Debugf("%s: state %s -> %s", b.name, from, to)
	b.state = to
	return true
}

func (b *Base) IsStarted() bool {
	return b.State() == StateStarted
}

func (b *Base) Now() time.Time {
	return b.now()
}

func (b *Base) Events() *pubsub.Bus {
	return b.bus
}

func (b *Base) OrderTable() *OrderTable {
	return b.orders
}

func (b *Base) PositionTable() *PositionTable {
	return b.positions
}

func (b *Base) Book() *ServerSideBook {
	return b.book
}

func (b *Base) Orders() []*models.Order {
	return b.orders.All()
}

func (b *Base) OpenOrders() []*models.Order {
	return b.orders.Open()
}

func (b *Base) Positions() []*models.Position {
	return b.positions.All()
}

func (b *Base) Account() models.AccountInfo {
	b.accountMu.RLock()
	defer b.accountMu.RUnlock()

	return b.account
}

// UpdateAccount applies fn, re-derives equity and publishes AccountStateChanged.
func (b *Base) UpdateAccount(fn func(account *models.AccountInfo)) models.AccountInfo {
	b.accountMu.Lock()
	fn(&b.account)
	b.account.RecalculateEquity()
	account := b.account
	b.accountMu.Unlock()

	b.bus.PublishAccountStateChanged(account)
	return account
}

func (b *Base) SetPrice(symbol string, price float64) {
	b.pricesMu.Lock()
	defer b.pricesMu.Unlock()

	b.prices[symbol] = price
}

func (b *Base) Price(symbol string) (float64, bool) {
	b.pricesMu.RLock()
	defer b.pricesMu.RUnlock()

	price, ok := b.prices[symbol]
	return price, ok && price > 0
}

func (b *Base) SetReconnectHandler(fn func()) {
	b.reconnect = fn
}

// Go runs fn off the caller's goroutine; Wait blocks until every such call returns.
func (b *Base) Go(fn func()) {
	b.tasks.Go(fn)
}

func (b *Base) Wait() {
	b.tasks.Wait()
}

// HandleFailure classifies a venue failure. Failures are ignored unless the adapter
// is started; forbidden sessions trigger a rate-limited reconnect; everything
// else is published as an Error event.
func (b *Base) HandleFailure(source string, err error) {
	if err == nil {
		return
	}

	if !b.IsStarted() {
		log.Debugf("%s: ignoring %s failure while %s: %v", b.name, source, b.State(), err)
		return
	}

	if IsForbidden(err) {
		if !b.limiter.Allow() {
			log.Warnf("%s: %s: reconnect suppressed, last attempt was less than %s ago: %v", b.name, source, b.limiter.window, err)
			return
		}

		log.Warnf("%s: %s: session forbidden, reconnecting: %v", b.name, source, err)
		if b.reconnect != nil {
			b.Go(b.reconnect)
		}

		return
	}

	log.Errorf("%s: %s: %v", b.name, source, err)
	b.bus.PublishError(fmt.Sprintf("%s: %v", source, err))
}

// PrepareOrder validates the order and fills in the fields the adapter owns.
func (b *Base) PrepareOrder(order *models.Order) error {
	if order.UserID == "" {
		order.UserID = uuid.New().String()
	}

	if order.AccountID == "" {
		order.AccountID = b.Account().ID
	}

	if order.PlacedDate.IsZero() {
		order.PlacedDate = b.now()
	}

	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	if order.OpenQuantity == 0 && order.FilledQuantity == 0 && order.CancelledQuantity == 0 {
		order.OpenQuantity = order.Quantity
	}

	if !b.IsStarted() {
		return ErrCannotTrade
	}

	if order.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	switch order.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit, models.OrderTypeStop:
		if order.Price <= 0 {
			return ErrInvalidPrice
		}
	default:
		return ErrUnsupportedOrderType
	}

	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return NewValidationError("invalid order side: %q", order.Side)
	}

	return nil
}

// Track stores a new order and publishes OrdersChanged.
func (b *Base) Track(order *models.Order) *models.Order {
	stored := b.orders.Upsert(order)
	b.bus.PublishOrdersChanged(stored.Clone())

	return stored
}

// ApplyUpdate mutates a tracked order. Orders leaving the open set publish
// OrdersChanged, other changes publish OrdersUpdated.
func (b *Base) ApplyUpdate(userID string, fn func(order *models.Order) error) (*models.Order, error) {
	wasActive := false
	updated, err := b.orders.Update(userID, func(order *models.Order) error {
		wasActive = order.IsActive()
		return fn(order)
	})
	if err != nil {
		return nil, err
	}

	if wasActive && !updated.IsActive() {
		b.bus.PublishOrdersChanged(updated.Clone())
	} else {
		b.bus.PublishOrdersUpdated(updated.Clone())
	}

	return updated, nil
}

// Reject marks the order rejected and publishes OrderRejected with the reason in err.
func (b *Base) Reject(order *models.Order, err error) {
	reason := RejectReason(err)
	order.Reject(reason)

	log.Infof("%s: order %s rejected: %s", b.name, order.UserID, reason)

	stored := b.orders.Upsert(order)
	b.bus.PublishOrderRejected(stored.Clone(), reason)
	b.bus.PublishOrdersChanged(stored)
}

func (b *Base) HoldServerSide(order *models.Order) error {
	status := order.Status
	order.Status = models.OrderStatusOpen
	if err := b.book.Hold(order); err != nil {
		order.Status = status
		return err
	}

	b.Track(order)

	log.Infof("%s: holding server side %s %s %s @ %.5f", b.name, order.Side, order.Type, order.Symbol, order.Price)
	return nil
}

// CancelServerSide reports false when the order is not held in the book.
func (b *Base) CancelServerSide(userID string) bool {
	if _, ok := b.book.Cancel(userID); !ok {
		return false
	}

	_, err := b.ApplyUpdate(userID, func(order *models.Order) error {
		order.CancelRemaining()
		return nil
	})
	if err != nil {
		log.Warnf("%s: cancelled server side order %s is not tracked: %v", b.name, userID, err)
	}

	for _, leg := range b.book.ByParent(userID) {
		b.CancelServerSide(leg.UserID)
	}

	return true
}

// HoldProtection holds the server-side stop loss and take profit legs of a filled order.
func (b *Base) HoldProtection(parent *models.Order) {
	for _, leg := range NewProtectiveOrders(parent) {
		leg.PlacedDate = b.now()
		if err := b.HoldServerSide(leg); err != nil {
			log.Errorf("%s: failed to hold protective order for %s: %v", b.name, parent.UserID, err)
		}
	}
}

// ModifyServerSide updates the offsets of a held order, or reprices the
// protective legs of a filled one. nil offsets are left unchanged.
func (b *Base) ModifyServerSide(userID string, sl, tp *float64) error {
	setOffsets := func(order *models.Order) {
		if sl != nil {
			v := *sl
			order.SLOffset = &v
		}

		if tp != nil {
			v := *tp
			order.TPOffset = &v
		}
	}

	parent, err := b.ApplyUpdate(userID, func(order *models.Order) error {
		setOffsets(order)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s.ModifyServerSide: %w", b.name, err)
	}

	if _, held := b.book.Update(userID, setOffsets); held {
		return nil
	}

	if parent.Status != models.OrderStatusFilled {
		return nil
	}

	legs := map[string]*models.Order{}
	for _, leg := range b.book.ByParent(userID) {
		_, kind, _ := ParseProtectiveTag(leg.Tag)
		legs[kind] = leg
	}

	reprice := func(kind string, offset *float64, price func(*models.Order, float64) float64) {
		if offset == nil {
			return
		}

		leg, ok := legs[kind]
		if !ok {
			return
		}

		newPrice := price(parent, *offset)
		b.book.Update(leg.UserID, func(o *models.Order) { o.Price = newPrice })
		if _, err := b.ApplyUpdate(leg.UserID, func(o *models.Order) error {
			o.Price = newPrice
			return nil
		}); err != nil {
			log.Warnf("%s: protective order %s is not tracked: %v", b.name, leg.UserID, err)
		}
	}

	reprice(protectiveStopLoss, sl, StopLossPrice)
	reprice(protectiveTakeProfit, tp, TakeProfitPrice)

	var missing []*models.Order
	for _, leg := range NewProtectiveOrders(parent) {
		_, kind, _ := ParseProtectiveTag(leg.Tag)
		if _, ok := legs[kind]; ok {
			continue
		}

		if (kind == protectiveStopLoss && sl != nil) || (kind == protectiveTakeProfit && tp != nil) {
			missing = append(missing, leg)
		}
	}

	for _, leg := range missing {
		leg.PlacedDate = b.now()
		if err := b.HoldServerSide(leg); err != nil {
			return fmt.Errorf("%s.ModifyServerSide: %w", b.name, err)
		}
	}

	return nil
}

// TriggeredOrders records price and returns the held orders it triggers. Siblings of
// triggered protective orders are cancelled.
func (b *Base) TriggeredOrders(symbol string, price float64) []*models.Order {
	b.SetPrice(symbol, price)

	triggered, cancelled := b.book.Triggered(symbol, price)
	for _, order := range cancelled {
		if _, err := b.ApplyUpdate(order.UserID, func(o *models.Order) error {
			o.CancelRemaining()
			return nil
		}); err != nil {
			log.Warnf("%s: cancelled sibling %s is not tracked: %v", b.name, order.UserID, err)
		}
	}

	for _, order := range triggered {
		log.Infof("%s: server side %s %s %s @ %.5f triggered at %.5f", b.name, order.Side, order.Type, order.Symbol, order.Price, price)
	}

	return triggered
}

// Reset clears the tables before a fresh login.
func (b *Base) Reset() {
	b.orders.Clear()
	b.positions.Clear()
	b.book.Clear()

	b.accountMu.Lock()
	b.account = models.AccountInfo{}
	b.accountMu.Unlock()
}

func NewBase(name string, reconnectWindow time.Duration, now func() time.Time) *Base {
	if now == nil {
		now = time.Now
	}

	if reconnectWindow <= 0 {
		reconnectWindow = DefaultReconnectWindow
	}

	return &Base{
		name:      name,
		state:     StateLoggedOut,
		prices:    make(map[string]float64),
		orders:    NewOrderTable(),
		positions: NewPositionTable(),
		book:      NewServerSideBook(),
		bus:       pubsub.New(name),
		limiter:   NewReconnectLimiter(reconnectWindow, now),
		now:       now,
	}
}
