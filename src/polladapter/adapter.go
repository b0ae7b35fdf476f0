package polladapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/converter"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/worker"
)

const (
	DefaultTick             = 250 * time.Millisecond
	DefaultOrdersInterval   = time.Second
	DefaultPositionInterval = 3 * time.Second
	DefaultAccountInterval  = 5 * time.Second
)

type Config struct {
	Name             string
	Tick             time.Duration
	OrdersInterval   time.Duration
	PositionInterval time.Duration
	AccountInterval  time.Duration
	ReconnectWindow  time.Duration
	Now              func() time.Time
}

type cadence struct {
	gate     *worker.Gate
	periodic *worker.Periodic
}

// Adapter reconciles a venue that only exposes request/response endpoints by
// diffing successive snapshots of its open orders, positions and account.
type Adapter struct {
	*broker.Base
	cfg    Config
	client VenueRestClient

	orders    cadence
	positions cadence
	account   cadence

	mu     sync.Mutex
	creds  broker.Credentials
	known  map[string]knownOrder
	fetch  uint64
	margin *bool
	runCtx context.Context
	cancel context.CancelFunc
}

// knownOrder is an order from an earlier snapshot. since is the fetch that was
// in flight when a placement seeded it; zero once the venue has listed it.
type knownOrder struct {
	OrderSnapshot
	since uint64
}

func (a *Adapter) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runCtx == nil {
		return context.Background()
	}

	return a.runCtx
}

func (a *Adapter) cadences() []cadence {
	return []cadence{a.orders, a.positions, a.account}
}

func (a *Adapter) Login(ctx context.Context, creds broker.Credentials) error {
	if err := a.SetState(broker.StateLoggingIn); err != nil {
		return fmt.Errorf("polladapter.Login: %w", err)
	}

	if err := a.client.Login(ctx, creds); err != nil {
		a.SetState(broker.StateLoggedOut)
		return fmt.Errorf("polladapter.Login: %w", err)
	}

	summary, err := a.client.GetAccountSummary(ctx)
	if err != nil {
		a.SetState(broker.StateLoggedOut)
		return fmt.Errorf("polladapter.Login: failed to get account summary: %w", err)
	}

	a.Reset()

	a.mu.Lock()
	a.creds = creds
	a.known = make(map[string]knownOrder)
	a.margin = nil
	a.mu.Unlock()

	account := a.UpdateAccount(func(info *models.AccountInfo) {
		info.ID = creds.AccountID
		info.UserID = creds.UserID
		info.BrokerName = a.Name()
		applySummary(info, summary)
	})

	log.Infof("%s: logged in to account %s, balance %.2f %s", a.Name(), account.ID, account.Balance, account.Currency)

	return a.SetState(broker.StateLoggedIn)
}

func applySummary(info *models.AccountInfo, summary AccountSummary) {
	if info.ID == "" {
		info.ID = summary.AccountID
	}

	if summary.Currency != "" {
		info.Currency = summary.Currency
	}

	info.Balance = summary.Balance
	info.Margin = summary.Margin
	info.Profit = summary.Profit
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.SetState(broker.StateStarted); err != nil {
		return fmt.Errorf("polladapter.Start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.runCtx, a.cancel = runCtx, cancel
	a.mu.Unlock()

	for _, c := range a.cadences() {
		c.gate.Reset()
		c.periodic.Start(runCtx)
	}

	return nil
}

func (a *Adapter) Stop() {
	if a.State() == broker.StateStopped {
		return
	}

	a.SetState(broker.StateStopped)

	for _, c := range a.cadences() {
		c.periodic.Stop()
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	for _, c := range a.cadences() {
		c.periodic.Wait()
	}

	a.Wait()

	log.Infof("%s: stopped", a.Name())
}

// gated runs poll only when its cadence is due.
func (a *Adapter) gated(gate *worker.Gate, poll func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		if !a.IsStarted() || !gate.Due(a.Now()) {
			return
		}

		poll(ctx)
	}
}

// relogin refreshes a forbidden session. Polling carries on with the new session.
func (a *Adapter) relogin() {
	if !a.IsStarted() {
		return
	}

	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()

	if err := a.client.Login(a.context(), creds); err != nil {
		log.Errorf("%s: relogin failed: %v", a.Name(), err)
		a.Events().PublishError(fmt.Sprintf("relogin: %v", err))
		return
	}

	log.Infof("%s: session refreshed", a.Name())
}

func (a *Adapter) pollAccount(ctx context.Context) {
	ctx, span := a.StartSpan(ctx, "GetAccountSummary")
	summary, err := a.client.GetAccountSummary(ctx)
	broker.EndSpan(span, err)
	if err != nil {
		a.HandleFailure("GetAccountSummary", err)
		return
	}

	if !a.IsStarted() {
		return
	}

	a.UpdateAccount(func(info *models.AccountInfo) {
		applySummary(info, summary)
	})
}

// isMarginAccount checks the balance buckets once and caches the answer.
func (a *Adapter) isMarginAccount(ctx context.Context) (bool, []Balance, error) {
	a.mu.Lock()
	if a.margin != nil {
		margin := *a.margin
		a.mu.Unlock()
		return margin, nil, nil
	}
	a.mu.Unlock()

	balances, err := a.getBalances(ctx)
	if err != nil {
		return false, nil, err
	}

	margin := false
	for _, b := range balances {
		if strings.EqualFold(b.Wallet, MarginWallet) {
			margin = true
			break
		}
	}

	a.mu.Lock()
	a.margin = &margin
	a.mu.Unlock()

	a.UpdateAccount(func(info *models.AccountInfo) {
		info.IsMarginAccount = margin
	})

	log.Infof("%s: margin account: %v", a.Name(), margin)

	return margin, balances, nil
}

func (a *Adapter) getBalances(ctx context.Context) ([]Balance, error) {
	ctx, span := a.StartSpan(ctx, "GetBalances")
	balances, err := a.client.GetBalances(ctx)
	broker.EndSpan(span, err)

	return balances, err
}

func (a *Adapter) pollPositions(ctx context.Context) {
	margin, balances, err := a.isMarginAccount(ctx)
	if err != nil {
		a.HandleFailure("GetBalances", err)
		return
	}

	var next []*models.Position
	if margin {
		spanCtx, span := a.StartSpan(ctx, "GetMarginPositions")
		venuePositions, err := a.client.GetMarginPositions(spanCtx)
		broker.EndSpan(span, err)
		if err != nil {
			a.HandleFailure("GetMarginPositions", err)
			return
		}

		next = a.marginPositions(venuePositions)
	} else {
		if balances == nil {
			if balances, err = a.getBalances(ctx); err != nil {
				a.HandleFailure("GetBalances", err)
				return
			}
		}

		next = a.derivedPositions(balances)
	}

	if !a.IsStarted() {
		return
	}

	a.reconcilePositions(next)
}

func (a *Adapter) marginPositions(venuePositions []MarginPosition) []*models.Position {
	account := a.Account()

	positions := make([]*models.Position, 0, len(venuePositions))
	for _, vp := range venuePositions {
		p := &models.Position{
			AccountID:    account.ID,
			BrokerName:   a.Name(),
			Symbol:       vp.Symbol,
			AvgPrice:     vp.AvgPrice,
			CurrentPrice: vp.CurrentPrice,
			Margin:       vp.Margin,
			Profit:       vp.Profit,
		}
		p.SetQuantity(vp.Quantity)
		positions = append(positions, p)
	}

	return positions
}

// derivedPositions turns non-zero balances of anything but the account
// currency into long positions quoted in that currency.
func (a *Adapter) derivedPositions(balances []Balance) []*models.Position {
	account := a.Account()

	var positions []*models.Position
	for _, b := range balances {
		if strings.EqualFold(b.Asset, account.Currency) || b.Total() == 0 {
			continue
		}

		symbol := strings.ToUpper(b.Asset + account.Currency)
		p := &models.Position{
			AccountID:  account.ID,
			BrokerName: a.Name(),
			Symbol:     symbol,
		}
		p.SetQuantity(b.Total())

		if price, ok := a.Price(symbol); ok {
			p.CurrentPrice = price
		}

		positions = append(positions, p)
	}

	return positions
}

func samePosition(a, b *models.Position) bool {
	return a.Quantity == b.Quantity && a.AvgPrice == b.AvgPrice && a.CurrentPrice == b.CurrentPrice && a.Margin == b.Margin && a.Profit == b.Profit
}

func (a *Adapter) reconcilePositions(next []*models.Position) {
	current := map[string]*models.Position{}
	for _, p := range a.PositionTable().All() {
		current[p.Symbol] = p
	}

	var changed []*models.Position
	seen := map[string]bool{}
	for _, p := range next {
		seen[p.Symbol] = true

		prev, found := current[p.Symbol]
		if found {
			p.UserID = prev.UserID
			if samePosition(prev, p) {
				continue
			}
		} else {
			p.UserID = uuid.New().String()
		}

		a.PositionTable().Set(p)
		changed = append(changed, p)
	}

	for symbol, prev := range current {
		if seen[symbol] {
			continue
		}

		a.PositionTable().Remove(symbol)
		prev.SetQuantity(0)
		changed = append(changed, prev)
	}

	a.Events().PublishPositionsChanged(changed...)
}

func (a *Adapter) beginFetch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fetch++
	return a.fetch
}

func (a *Adapter) pollOrders(ctx context.Context) {
	fetch := a.beginFetch()

	spanCtx, span := a.StartSpan(ctx, "GetOpenOrders")
	snapshots, err := a.client.GetOpenOrders(spanCtx)
	broker.EndSpan(span, err)
	if err != nil {
		a.HandleFailure("GetOpenOrders", err)
		return
	}

	if !a.IsStarted() {
		return
	}

	next := make(map[string]OrderSnapshot, len(snapshots))
	for _, s := range snapshots {
		next[s.ID] = s
	}

	for _, closed := range a.checkForClosed(next, fetch) {
		if err := a.closeOrder(ctx, closed); err != nil {
			a.HandleFailure("GetOrderTrades", err)
			continue
		}

		a.forget(closed.ID)
	}

	for _, s := range a.checkForCreateOrUpdate(snapshots) {
		a.applySnapshot(s)
	}
}

// checkForClosed returns the known orders missing from the new snapshot. Orders
// placed while that snapshot was in flight cannot be in it and are skipped.
func (a *Adapter) checkForClosed(next map[string]OrderSnapshot, fetch uint64) []OrderSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var closed []OrderSnapshot
	for id, k := range a.known {
		if k.since >= fetch {
			continue
		}

		if _, found := next[id]; !found {
			closed = append(closed, k.OrderSnapshot)
		}
	}

	return closed
}

// checkForCreateOrUpdate records the snapshot and returns the orders that are new or moved.
func (a *Adapter) checkForCreateOrUpdate(snapshots []OrderSnapshot) []OrderSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var updates []OrderSnapshot
	for _, s := range snapshots {
		prev, found := a.known[s.ID]
		a.known[s.ID] = knownOrder{OrderSnapshot: s}

		if !found || s.changed(prev.OrderSnapshot) {
			updates = append(updates, s)
		}
	}

	return updates
}

func (a *Adapter) remember(s OrderSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.known[s.ID] = knownOrder{OrderSnapshot: s, since: a.fetch}
}

func (a *Adapter) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.known, id)
}

func (a *Adapter) lookup(s OrderSnapshot) (*models.Order, bool) {
	if order, ok := a.OrderTable().GetByBrokerID(s.ID); ok {
		return order, true
	}

	if s.ClientID != "" {
		return a.OrderTable().Get(s.ClientID)
	}

	return nil, false
}

func (a *Adapter) orderFromSnapshot(s OrderSnapshot) *models.Order {
	side, _ := converter.ToSide(s.Side)
	orderType := converter.ToOrderType(converter.DialectRest, s.Type)
	tif := converter.ToTimeInForce(converter.DialectRest, s.TimeInForce)

	order := models.NewOrder(a.Account().ID, s.Symbol, side, orderType, tif, s.Quantity, s.Price)
	if s.ClientID != "" {
		order.UserID = s.ClientID
	}

	order.SetBrokerID(s.ID)
	order.PlacedDate = s.Time
	if order.PlacedDate.IsZero() {
		order.PlacedDate = converter.PlacedTime(s.ID, a.Now())
	}

	return order
}

// applySnapshot merges an open-order snapshot into the tracked order.
func (a *Adapter) applySnapshot(s OrderSnapshot) {
	existing, found := a.lookup(s)
	if !found {
		existing = a.Track(a.orderFromSnapshot(s))
	}

	at := a.Now()
	status := converter.ToOrderStatus(converter.DialectRest, s.Status)

	order, err := a.ApplyUpdate(existing.UserID, func(o *models.Order) error {
		if o.GetBrokerID() == "" {
			o.SetBrokerID(s.ID)
		}

		if o.Status.IsFinal() {
			return nil
		}

		o.RaiseQuantity(s.Quantity)
		o.AdvanceFills(s.FilledQuantity, s.AvgFillPrice, at)

		if status == models.OrderStatusOpen && o.Status == models.OrderStatusPending {
			o.Status = models.OrderStatusOpen
		}

		return nil
	})
	if err != nil {
		log.Errorf("%s: failed to apply snapshot of order %s: %v", a.Name(), s.ID, err)
		return
	}

	a.protect(order)
}

// closeOrder settles an order that left the open set from its trade history.
// Whatever the trades do not cover was cancelled.
func (a *Adapter) closeOrder(ctx context.Context, s OrderSnapshot) error {
	existing, found := a.lookup(s)
	if !found || existing.Status.IsFinal() {
		return nil
	}

	spanCtx, span := a.StartSpan(ctx, "GetOrderTrades", broker.OrderAttributes(existing)...)
	trades, err := a.client.GetOrderTrades(spanCtx, s.Symbol, s.ID)
	broker.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("polladapter.closeOrder: %w", err)
	}

	var at time.Time
	filled, notional := 0.0, 0.0
	for _, t := range trades {
		filled += t.Quantity
		notional += t.Quantity * t.Price
		if t.Time.After(at) {
			at = t.Time
		}
	}

	if at.IsZero() {
		at = a.Now()
	}

	avgPrice := 0.0
	if filled > 0 {
		avgPrice = notional / filled
	}

	order, err := a.ApplyUpdate(existing.UserID, func(o *models.Order) error {
		if o.Status.IsFinal() {
			return nil
		}

		o.AdvanceFills(filled, avgPrice, at)
		if !o.Status.IsFinal() {
			o.CancelRemaining()
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("polladapter.closeOrder: %w", err)
	}

	log.Infof("%s: order %s closed: %s", a.Name(), s.ID, order)

	a.protect(order)
	return nil
}

// protect holds server-side legs for a filled order that carries offsets.
// The venue has no native protective orders.
func (a *Adapter) protect(order *models.Order) {
	if order.Status != models.OrderStatusFilled || (order.SLOffset == nil && order.TPOffset == nil) {
		return
	}

	if len(a.Book().ByParent(order.UserID)) > 0 {
		return
	}

	a.HoldProtection(order)
}

func (a *Adapter) request(order *models.Order) OrderRequest {
	return OrderRequest{
		ClientID:    order.UserID,
		Symbol:      order.Symbol,
		Side:        converter.FromSide(converter.DialectRest, order.Side),
		Type:        converter.FromOrderType(converter.DialectRest, order.Type),
		TimeInForce: converter.FromTimeInForce(order.TimeInForce),
		Quantity:    order.OpenQuantity,
		Price:       order.Price,
	}
}

func (a *Adapter) PlaceOrder(ctx context.Context, order *models.Order) error {
	if err := a.PrepareOrder(order); err != nil {
		a.Reject(order, err)
		return err
	}

	if order.ServerSide && order.Type != models.OrderTypeMarket {
		if err := a.HoldServerSide(order); err != nil {
			a.Reject(order, err)
			return err
		}

		return nil
	}

	a.Track(order)
	a.dispatch(order.UserID, a.request(order))

	return nil
}

// dispatch places the order off the caller's goroutine and seeds the known
// snapshot so the next poll settles it even when it never shows up as open.
func (a *Adapter) dispatch(userID string, req OrderRequest) {
	ctx := a.context()
	a.Go(func() {
		spanCtx, span := a.StartSpan(ctx, "PlaceOrder",
			attribute.String("orderID", userID),
			attribute.String("symbol", req.Symbol),
			attribute.String("side", req.Side),
			attribute.String("type", req.Type),
			attribute.Float64("quantity", req.Quantity),
		)
		snapshot, err := a.client.PlaceOrder(spanCtx, req)
		broker.EndSpan(span, err)
		if !a.IsStarted() {
			log.Debugf("%s: dropping placement result for %s after %s", a.Name(), userID, a.State())
			return
		}

		if err != nil {
			if order, ok := a.OrderTable().Get(userID); ok {
				a.Reject(order, err)
			}

			if !broker.IsVenueRejection(err) {
				a.HandleFailure("PlaceOrder", err)
			}

			return
		}

		if snapshot.ClientID == "" {
			snapshot.ClientID = userID
		}

		a.remember(snapshot)
		a.applySnapshot(snapshot)
	})
}

func (a *Adapter) CancelOrder(ctx context.Context, order *models.Order) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	if a.CancelServerSide(order.UserID) {
		return nil
	}

	stored, ok := a.OrderTable().Get(order.UserID)
	if !ok {
		return broker.ErrOrderNotFound
	}

	venueID := stored.GetBrokerID()
	if venueID == "" {
		return broker.ErrMissingBrokerID
	}

	runCtx := a.context()
	a.Go(func() {
		ctx, span := a.StartSpan(runCtx, "CancelOrder", broker.OrderAttributes(stored)...)
		err := a.client.CancelOrder(ctx, stored.Symbol, venueID)
		broker.EndSpan(span, err)
		if err != nil {
			a.HandleFailure("CancelOrder", err)
		}
	})

	return nil
}

// ModifyOrder only works on offsets the adapter holds itself.
func (a *Adapter) ModifyOrder(ctx context.Context, order *models.Order, sl, tp *float64, isServerSide bool) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	stored, ok := a.OrderTable().Get(order.UserID)
	if !ok {
		return broker.ErrOrderNotFound
	}

	if isServerSide || stored.ServerSide || stored.Status == models.OrderStatusFilled {
		return a.ModifyServerSide(order.UserID, sl, tp)
	}

	return broker.ErrAmendNotSupported
}

func (a *Adapter) OnPrice(symbol string, price float64) {
	if !a.IsStarted() || price <= 0 {
		return
	}

	for _, order := range a.TriggeredOrders(symbol, price) {
		req := a.request(order)
		req.Type = converter.FromOrderType(converter.DialectRest, models.OrderTypeMarket)
		req.Price = 0
		a.dispatch(order.UserID, req)
	}
}

func NewAdapter(cfg Config, client VenueRestClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "poll"
	}

	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	if cfg.OrdersInterval <= 0 {
		cfg.OrdersInterval = DefaultOrdersInterval
	}

	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = DefaultPositionInterval
	}

	if cfg.AccountInterval <= 0 {
		cfg.AccountInterval = DefaultAccountInterval
	}

	a := &Adapter{
		Base:   broker.NewBase(cfg.Name, cfg.ReconnectWindow, cfg.Now),
		cfg:    cfg,
		client: client,
		known:  make(map[string]knownOrder),
	}

	newCadence := func(name string, interval time.Duration, poll func(ctx context.Context)) cadence {
		gate := worker.NewGate(interval)
		return cadence{
			gate:     gate,
			periodic: worker.NewPeriodic(cfg.Name+" "+name, cfg.Tick, a.gated(gate, poll)),
		}
	}

	a.orders = newCadence("orders", cfg.OrdersInterval, a.pollOrders)
	a.positions = newCadence("positions", cfg.PositionInterval, a.pollPositions)
	a.account = newCadence("account", cfg.AccountInterval, a.pollAccount)

	a.SetReconnectHandler(a.relogin)

	return a
}

var _ broker.Adapter = (*Adapter)(nil)
