package pushadapter

import (
	"context"
	"fmt"
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
	DefaultAccountPollInterval = 3 * time.Second
	DefaultReloginBackoff      = 30 * time.Second
)

type Config struct {
	Name                string
	Instruments         []string
	AccountPollInterval time.Duration
	ReloginBackoff      time.Duration
	ReconnectWindow     time.Duration
	Now                 func() time.Time
}

// Adapter drives a venue that pushes order, execution, position and account
// updates over an authenticated session.
type Adapter struct {
	*broker.Base
	cfg         Config
	connector   Connector
	accountPoll *worker.Periodic

	mu         sync.RWMutex
	session    VenueSession
	creds      broker.Credentials
	runCtx     context.Context
	cancel     context.CancelFunc
	executions map[string]string
}

func (a *Adapter) getSession() VenueSession {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.session
}

func (a *Adapter) setSession(s VenueSession) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session = s
}

func (a *Adapter) takeSession() VenueSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session
	a.session = nil
	return s
}

func (a *Adapter) context() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.runCtx == nil {
		return context.Background()
	}

	return a.runCtx
}

func (a *Adapter) Login(ctx context.Context, creds broker.Credentials) error {
	if err := a.SetState(broker.StateLoggingIn); err != nil {
		return fmt.Errorf("pushadapter.Login: %w", err)
	}

	session, err := a.connector.Login(ctx, creds)
	if err != nil {
		a.SetState(broker.StateLoggedOut)
		return fmt.Errorf("pushadapter.Login: %w", err)
	}

	stateCtx, span := a.StartSpan(ctx, "GetAccountState")
	state, err := session.GetAccountState(stateCtx)
	broker.EndSpan(span, err)
	if err != nil {
		a.SetState(broker.StateLoggedOut)
		if closeErr := session.Close(); closeErr != nil {
			log.Warnf("%s: failed to close session: %v", a.Name(), closeErr)
		}

		return fmt.Errorf("pushadapter.Login: failed to get account state: %w", err)
	}

	a.Reset()

	a.mu.Lock()
	a.creds = creds
	a.session = session
	a.executions = make(map[string]string)
	a.mu.Unlock()

	account := a.UpdateAccount(func(info *models.AccountInfo) {
		info.ID = creds.AccountID
		info.UserID = creds.UserID
		info.BrokerName = a.Name()
		applyAccountState(info, state)
	})

	log.Infof("%s: logged in to account %s, balance %.2f %s", a.Name(), account.ID, account.Balance, account.Currency)

	return a.SetState(broker.StateLoggedIn)
}

func applyAccountState(info *models.AccountInfo, state AccountState) {
	if state.AccountID != "" && info.ID == "" {
		info.ID = state.AccountID
	}

	if state.Currency != "" {
		info.Currency = state.Currency
	}

	info.Balance = state.Balance
	info.Margin = state.Margin
	info.Profit = state.Profit
	info.IsMarginAccount = state.IsMarginAccount
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.SetState(broker.StateStarted); err != nil {
		return fmt.Errorf("pushadapter.Start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.runCtx, a.cancel = runCtx, cancel
	a.mu.Unlock()

	session := a.getSession()
	if session == nil {
		return broker.ErrSessionUnavailable
	}

	a.subscribe(runCtx, session)
	a.accountPoll.Start(runCtx)

	return nil
}

// subscribe attaches the handlers and then opens the streams in a fixed order:
// account, orders, executions, positions and one order book per instrument.
func (a *Adapter) subscribe(ctx context.Context, session VenueSession) {
	em := session.Events()
	em.On(EventOrderChanged, a.onOrderChanged)
	em.On(EventExecuted, a.onExecuted)
	em.On(EventPositionChanged, a.onPositionChanged)
	em.On(EventAccountStateUpdated, a.onAccountStateUpdated)
	em.On(EventQuote, a.onQuote)
	em.On(EventDisconnected, a.onDisconnected)

	specs := []StreamSpec{
		{Kind: StreamAccount},
		{Kind: StreamOrder},
		{Kind: StreamExecution},
		{Kind: StreamPosition},
	}

	for _, symbol := range a.cfg.Instruments {
		specs = append(specs, StreamSpec{Kind: StreamOrderBook, Symbol: symbol})
	}

	for _, spec := range specs {
		if err := session.Subscribe(ctx, spec); err != nil {
			log.Errorf("%s: failed to subscribe to %s %s: %v", a.Name(), spec.Kind, spec.Symbol, err)
			a.HandleFailure("Subscribe", err)
		}
	}
}

func detach(session VenueSession) {
	em := session.Events()
	for _, name := range sessionEvents {
		em.RemoveAllListeners(name)
	}
}

func (a *Adapter) closeSession(session VenueSession) {
	if session == nil {
		return
	}

	detach(session)
	if err := session.Close(); err != nil {
		log.Warnf("%s: failed to close session: %v", a.Name(), err)
	}
}

func (a *Adapter) Stop() {
	if a.State() == broker.StateStopped {
		return
	}

	a.SetState(broker.StateStopped)
	a.accountPoll.Stop()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	a.closeSession(a.takeSession())

	a.accountPoll.Wait()
	a.Wait()

	log.Infof("%s: stopped", a.Name())
}

func (a *Adapter) onDisconnected(payload ...interface{}) {
	reason := ""
	if len(payload) > 0 {
		if d, ok := payload[0].(Disconnected); ok {
			reason = d.Reason
		}
	}

	if !a.CompareAndSetState(broker.StateStarted, broker.StateDisconnected) {
		return
	}

	log.Warnf("%s: session disconnected: %s", a.Name(), reason)

	a.Go(func() { a.reconnect(broker.StateDisconnected) })
}

// reconnect drops the current session and logs in again until it succeeds or
// the adapter is stopped. Only the caller that wins the state change runs it.
func (a *Adapter) reconnect(from broker.State) {
	if !a.CompareAndSetState(from, broker.StateReconnecting) {
		return
	}

	a.accountPoll.Stop()
	a.accountPoll.Wait()
	a.closeSession(a.takeSession())

	ctx := a.context()

	a.mu.RLock()
	creds := a.creds
	a.mu.RUnlock()

	for {
		if ctx.Err() != nil || a.State() != broker.StateReconnecting {
			return
		}

		session, err := a.connector.Login(ctx, creds)
		if err == nil {
			if a.resume(ctx, session) {
				return
			}

			a.closeSession(session)
			return
		}

		log.Warnf("%s: relogin failed, retrying in %s: %v", a.Name(), a.cfg.ReloginBackoff, err)

		timer := time.NewTimer(a.cfg.ReloginBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (a *Adapter) resume(ctx context.Context, session VenueSession) bool {
	a.setSession(session)
	if !a.CompareAndSetState(broker.StateReconnecting, broker.StateStarted) {
		a.takeSession()
		return false
	}

	a.subscribe(ctx, session)
	a.accountPoll.Start(ctx)

	log.Infof("%s: session restored", a.Name())
	return true
}

func (a *Adapter) pollAccount(ctx context.Context) {
	session := a.getSession()
	if !a.IsStarted() || session == nil {
		return
	}

	ctx, span := a.StartSpan(ctx, "GetAccountState")
	state, err := session.GetAccountState(ctx)
	broker.EndSpan(span, err)
	if err != nil {
		a.HandleFailure("GetAccountState", err)
		return
	}

	a.applyAccount(state)
}

func (a *Adapter) applyAccount(state AccountState) {
	if !a.IsStarted() {
		return
	}

	a.UpdateAccount(func(info *models.AccountInfo) {
		applyAccountState(info, state)
	})
}

func (a *Adapter) onAccountStateUpdated(payload ...interface{}) {
	if len(payload) == 0 {
		return
	}

	state, ok := payload[0].(AccountState)
	if !ok {
		return
	}

	a.applyAccount(state)
}

func (a *Adapter) onPositionChanged(payload ...interface{}) {
	if len(payload) == 0 {
		return
	}

	update, ok := payload[0].(PositionUpdate)
	if !ok || !a.IsStarted() {
		return
	}

	account := a.Account()
	position := &models.Position{
		AccountID:    account.ID,
		BrokerName:   a.Name(),
		Symbol:       update.Symbol,
		AvgPrice:     update.AvgPrice,
		CurrentPrice: update.CurrentPrice,
		Margin:       update.Margin,
		Profit:       update.Profit,
	}

	if existing, found := a.PositionTable().Get(update.Symbol); found {
		position.UserID = existing.UserID
	} else {
		position.UserID = uuid.New().String()
	}

	position.SetQuantity(update.Quantity)

	a.PositionTable().Set(position)
	a.Events().PublishPositionsChanged(position)
}

func (a *Adapter) onQuote(payload ...interface{}) {
	if len(payload) == 0 {
		return
	}

	quote, ok := payload[0].(Quote)
	if !ok {
		return
	}

	a.OnPrice(quote.Symbol, quote.Mid())
}

// lookup finds a tracked order by venue id first and client id second.
func (a *Adapter) lookup(venueID, clientID string) (*models.Order, bool) {
	if venueID != "" {
		if order, ok := a.OrderTable().GetByBrokerID(venueID); ok {
			return order, true
		}
	}

	if clientID != "" {
		return a.OrderTable().Get(clientID)
	}

	return nil, false
}

func (a *Adapter) orderFromUpdate(update OrderUpdate) *models.Order {
	side, _ := converter.ToSide(update.Side)
	tif := converter.ToTimeInForce(converter.DialectSession, update.TimeInForce)

	order := models.NewOrder(a.Account().ID, update.Symbol, side, converter.ToOrderType(converter.DialectSession, update.Type), tif, update.Quantity, update.Price)
	if update.ClientID != "" {
		order.UserID = update.ClientID
	}

	order.SetBrokerID(update.VenueID)
	order.PlacedDate = update.Time
	if order.PlacedDate.IsZero() {
		order.PlacedDate = converter.PlacedTime(update.VenueID, a.Now())
	}

	return order
}

func (a *Adapter) onOrderChanged(payload ...interface{}) {
	if len(payload) == 0 {
		return
	}

	update, ok := payload[0].(OrderUpdate)
	if !ok || !a.IsStarted() {
		return
	}

	at := update.Time
	if at.IsZero() {
		at = a.Now()
	}

	existing, found := a.lookup(update.VenueID, update.ClientID)
	if !found {
		existing = a.Track(a.orderFromUpdate(update))
	}

	status := converter.ToOrderStatus(converter.DialectSession, update.Status)

	filled := false
	order, err := a.ApplyUpdate(existing.UserID, func(o *models.Order) error {
		if update.VenueID != "" {
			o.SetBrokerID(update.VenueID)
		}

		if o.Status.IsFinal() {
			return nil
		}

		o.RaiseQuantity(update.Quantity)
		o.AdvanceFills(update.FilledQuantity, update.AvgFillPrice, at)

		switch status {
		case models.OrderStatusRejected:
			reason := converter.RejectReason(update.RejectCode)
			if update.RejectCode == "" && update.RejectReason != "" {
				reason = update.RejectReason
			}
			o.Reject(reason)
		case models.OrderStatusCancelled, models.OrderStatusExpired:
			o.CancelRemaining()
			if o.Status == models.OrderStatusCancelled {
				o.Status = status
			}
		case models.OrderStatusOpen:
			if o.Status == models.OrderStatusPending {
				o.Status = models.OrderStatusOpen
			}
		case models.OrderStatusFilled, models.OrderStatusPartiallyFilled:
			// quantities decide
		}

		filled = o.Status == models.OrderStatusFilled
		return nil
	})
	if err != nil {
		log.Errorf("%s: failed to apply order update %s: %v", a.Name(), update.VenueID, err)
		return
	}

	if order.Status.IsFinal() {
		a.forgetExecutions(order.UserID)
	}

	if filled {
		a.protect(order)
	}

	if order.Status == models.OrderStatusRejected && status == models.OrderStatusRejected {
		a.Events().PublishOrderRejected(order.Clone(), order.RejectReason)
	}
}

func (a *Adapter) onExecuted(payload ...interface{}) {
	if len(payload) == 0 {
		return
	}

	execution, ok := payload[0].(Execution)
	if !ok || !a.IsStarted() {
		return
	}

	existing, found := a.lookup(execution.VenueID, execution.ClientID)
	if !found {
		log.Warnf("%s: execution %s for unknown order %s", a.Name(), execution.ID, execution.VenueID)
		return
	}

	if !a.markExecution(execution.ID, existing.UserID) {
		return
	}

	at := execution.Time
	if at.IsZero() {
		at = a.Now()
	}

	filled := false
	order, err := a.ApplyUpdate(existing.UserID, func(o *models.Order) error {
		if o.Status.IsFinal() {
			return nil
		}

		cumulative := execution.CumulativeQuantity
		avgPrice := execution.AvgPrice
		if cumulative == 0 {
			cumulative = o.FilledQuantity + execution.Quantity
			avgPrice = (o.AvgFillPrice*o.FilledQuantity + execution.Price*execution.Quantity) / cumulative
		}

		if avgPrice == 0 {
			avgPrice = execution.Price
		}

		o.AdvanceFills(cumulative, avgPrice, at)
		filled = o.Status == models.OrderStatusFilled
		return nil
	})
	if err != nil {
		log.Errorf("%s: failed to apply execution %s: %v", a.Name(), execution.ID, err)
		return
	}

	if order.Status.IsFinal() {
		a.forgetExecutions(order.UserID)
	}

	if filled {
		a.protect(order)
	}
}

// protect holds server-side legs for an order that has just filled.
func (a *Adapter) protect(order *models.Order) {
	if order.ServerSide && (order.SLOffset != nil || order.TPOffset != nil) && len(a.Book().ByParent(order.UserID)) == 0 {
		a.HoldProtection(order)
	}
}

// markExecution reports false when the execution was already applied. Ids are
// kept until their order is final.
func (a *Adapter) markExecution(id, userID string) bool {
	if id == "" {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.executions[id]; seen {
		return false
	}

	a.executions[id] = userID
	return true
}

func (a *Adapter) forgetExecutions(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, owner := range a.executions {
		if owner == userID {
			delete(a.executions, id)
		}
	}
}

func (a *Adapter) request(order *models.Order) OrderRequest {
	req := OrderRequest{
		ClientID:    order.UserID,
		Symbol:      order.Symbol,
		Side:        converter.FromSide(converter.DialectSession, order.Side),
		Type:        converter.FromOrderType(converter.DialectSession, order.Type),
		TimeInForce: converter.FromTimeInForce(order.TimeInForce),
		Quantity:    order.OpenQuantity,
		Price:       order.Price,
	}

	if !order.ServerSide {
		req.SLOffset = order.SLOffset
		req.TPOffset = order.TPOffset
	}

	return req
}

func (a *Adapter) PlaceOrder(ctx context.Context, order *models.Order) error {
	if err := a.PrepareOrder(order); err != nil {
		a.Reject(order, err)
		return err
	}

	session := a.getSession()
	if session == nil {
		a.Reject(order, broker.ErrSessionUnavailable)
		return broker.ErrSessionUnavailable
	}

	if order.ServerSide && order.Type != models.OrderTypeMarket {
		if err := a.HoldServerSide(order); err != nil {
			a.Reject(order, err)
			return err
		}

		return nil
	}

	a.Track(order)
	a.dispatch(session, order.UserID, order.Type, a.request(order))

	return nil
}

func placeAttributes(userID string, req OrderRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("orderID", userID),
		attribute.String("symbol", req.Symbol),
		attribute.String("side", req.Side),
		attribute.String("type", req.Type),
		attribute.Float64("quantity", req.Quantity),
	}
}

// dispatch sends the order off the caller's goroutine. The venue confirms it
// through the order stream.
func (a *Adapter) dispatch(session VenueSession, userID string, orderType models.OrderType, req OrderRequest) {
	var place func(context.Context, OrderRequest) (string, error)
	switch orderType {
	case models.OrderTypeLimit:
		place = session.PlaceLimitOrder
	case models.OrderTypeStop:
		place = session.PlaceStopOrder
	default:
		place = session.PlaceMarketOrder
	}

	ctx := a.context()
	a.Go(func() {
		spanCtx, span := a.StartSpan(ctx, "PlaceOrder", placeAttributes(userID, req)...)
		venueID, err := place(spanCtx, req)
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

		if _, err := a.ApplyUpdate(userID, func(o *models.Order) error {
			if o.GetBrokerID() == "" {
				o.SetBrokerID(venueID)
			}

			if o.Status == models.OrderStatusPending {
				o.Status = models.OrderStatusOpen
			}

			return nil
		}); err != nil {
			log.Errorf("%s: placed order %s is not tracked: %v", a.Name(), userID, err)
		}
	})
}

func (a *Adapter) CancelOrder(ctx context.Context, order *models.Order) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	if a.CancelServerSide(order.UserID) {
		return nil
	}

	venueID := order.GetBrokerID()
	if stored, ok := a.OrderTable().Get(order.UserID); ok && stored.GetBrokerID() != "" {
		venueID = stored.GetBrokerID()
	}

	if venueID == "" {
		return broker.ErrMissingBrokerID
	}

	session := a.getSession()
	if session == nil {
		return broker.ErrSessionUnavailable
	}

	runCtx := a.context()
	a.Go(func() {
		ctx, span := a.StartSpan(runCtx, "CancelOrder", attribute.String("orderID", order.UserID), attribute.String("brokerID", venueID))
		err := session.CancelOrder(ctx, venueID)
		broker.EndSpan(span, err)
		if err != nil {
			a.HandleFailure("CancelOrder", err)
		}
	})

	return nil
}

// ModifyOrder amends only the offsets that differ from the tracked order.
func (a *Adapter) ModifyOrder(ctx context.Context, order *models.Order, sl, tp *float64, isServerSide bool) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	stored, ok := a.OrderTable().Get(order.UserID)
	if !ok {
		return broker.ErrOrderNotFound
	}

	if isServerSide || stored.ServerSide {
		return a.ModifyServerSide(order.UserID, sl, tp)
	}

	changedSL := changed(stored.SLOffset, sl)
	changedTP := changed(stored.TPOffset, tp)
	if changedSL == nil && changedTP == nil {
		return nil
	}

	venueID := stored.GetBrokerID()
	if venueID == "" {
		return broker.ErrMissingBrokerID
	}

	session := a.getSession()
	if session == nil {
		return broker.ErrSessionUnavailable
	}

	runCtx := a.context()
	a.Go(func() {
		ctx, span := a.StartSpan(runCtx, "AmendStops", broker.OrderAttributes(stored)...)
		err := session.AmendStops(ctx, venueID, changedSL, changedTP)
		broker.EndSpan(span, err)
		if err != nil {
			a.HandleFailure("AmendStops", err)
			return
		}

		if _, err := a.ApplyUpdate(order.UserID, func(o *models.Order) error {
			if changedSL != nil {
				o.SLOffset = changedSL
			}

			if changedTP != nil {
				o.TPOffset = changedTP
			}

			return nil
		}); err != nil {
			log.Errorf("%s: amended order %s is not tracked: %v", a.Name(), order.UserID, err)
		}
	})

	return nil
}

func changed(current, next *float64) *float64 {
	if next == nil {
		return nil
	}

	if current != nil && *current == *next {
		return nil
	}

	v := *next
	return &v
}

// OnPrice fires the server-side orders the price triggers as market orders.
func (a *Adapter) OnPrice(symbol string, price float64) {
	if !a.IsStarted() || price <= 0 {
		return
	}

	triggered := a.TriggeredOrders(symbol, price)
	if len(triggered) == 0 {
		return
	}

	session := a.getSession()
	if session == nil {
		return
	}

	for _, order := range triggered {
		req := a.request(order)
		req.Type = converter.FromOrderType(converter.DialectSession, models.OrderTypeMarket)
		req.Price = 0
		a.dispatch(session, order.UserID, models.OrderTypeMarket, req)
	}
}

func NewAdapter(cfg Config, connector Connector) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "push"
	}

	if cfg.AccountPollInterval <= 0 {
		cfg.AccountPollInterval = DefaultAccountPollInterval
	}

	if cfg.ReloginBackoff <= 0 {
		cfg.ReloginBackoff = DefaultReloginBackoff
	}

	a := &Adapter{
		Base:       broker.NewBase(cfg.Name, cfg.ReconnectWindow, cfg.Now),
		cfg:        cfg,
		connector:  connector,
		executions: make(map[string]string),
	}

	a.accountPoll = worker.NewPeriodic(cfg.Name+" account poll", cfg.AccountPollInterval, a.pollAccount)
	a.SetReconnectHandler(func() { a.reconnect(broker.StateStarted) })

	return a
}

var _ broker.Adapter = (*Adapter)(nil)
