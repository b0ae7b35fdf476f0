package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/store"
	"github.com/jiaming2012/broker-bridge/src/worker"
)

const (
	DefaultMarkInterval = time.Second
	LiquidationTag      = "liquidation"
)

type Config struct {
	Name            string
	BrokerName      string
	Policy          Policy
	Commission      CommissionCalculator
	Instruments     Instruments
	MarkInterval    time.Duration
	ReconnectWindow time.Duration
	Now             func() time.Time
}

// Adapter is a paper trading venue backed by the matching engine.
type Adapter struct {
	*broker.Base
	brokerName  string
	engine      *Engine
	accounts    store.AccountStore
	positions   store.PositionStore
	marker      *worker.Periodic
	mu          sync.Mutex
	ledger      *Ledger
	liquidating bool
}

func (a *Adapter) Login(ctx context.Context, creds broker.Credentials) error {
	if err := a.SetState(broker.StateLoggingIn); err != nil {
		return fmt.Errorf("simulator.Login: %w", err)
	}

	ledger, err := a.load(ctx, creds)
	if err != nil {
		a.SetState(broker.StateLoggedOut)
		return err
	}

	a.Reset()

	a.mu.Lock()
	a.ledger = ledger
	account := ledger.Account
	positions := ledger.Positions()
	a.mu.Unlock()

	a.syncPositions(positions...)
	a.UpdateAccount(func(info *models.AccountInfo) { *info = account })

	log.Infof("%s: logged in to account %s, balance %.2f %s, %d positions", a.Name(), account.ID, account.Balance, account.Currency, len(positions))

	return a.SetState(broker.StateLoggedIn)
}

func (a *Adapter) load(ctx context.Context, creds broker.Credentials) (*Ledger, error) {
	ok, err := a.accounts.VerifyAccount(ctx, creds.UserID, creds.AccountID)
	if err != nil {
		return nil, fmt.Errorf("simulator.Login: failed to verify account: %w", err)
	}

	if !ok {
		return nil, broker.NewAuthenticationError(fmt.Errorf("unknown account %s for user %s", creds.AccountID, creds.UserID))
	}

	info, err := a.accounts.GetAccountDetails(ctx, creds.UserID, creds.AccountID)
	if err != nil {
		return nil, fmt.Errorf("simulator.Login: failed to get account details: %w", err)
	}

	info.ID = creds.AccountID
	info.UserID = creds.UserID
	info.BrokerName = a.brokerName
	info.IsMarginAccount = a.engine.Policy().LiquidatesOnZeroEquity()

	positions, err := a.positions.GetPositions(ctx, creds.UserID, creds.AccountID, a.brokerName)
	if err != nil {
		return nil, fmt.Errorf("simulator.Login: failed to get positions: %w", err)
	}

	ledger := NewLedger(info, positions)
	a.engine.MarkAll(ledger)

	return ledger, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.SetState(broker.StateStarted); err != nil {
		return fmt.Errorf("simulator.Start: %w", err)
	}

	a.marker.Start(ctx)
	a.UpdateAccount(func(*models.AccountInfo) {})

	return nil
}

func (a *Adapter) Stop() {
	if a.State() == broker.StateStopped {
		return
	}

	a.SetState(broker.StateStopped)
	a.marker.Stop()
	a.marker.Wait()
	a.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledger != nil {
		if err := a.engine.Flush(context.Background(), a.ledger); err != nil {
			log.Errorf("%s: failed to persist on stop: %v", a.Name(), err)
		}
	}
}

func (a *Adapter) PlaceOrder(ctx context.Context, order *models.Order) error {
	if err := a.PrepareOrder(order); err != nil {
		a.Reject(order, err)
		return err
	}

	price := order.Price
	if order.Type == models.OrderTypeMarket {
		var ok bool
		if price, ok = a.Price(order.Symbol); !ok {
			err := broker.NewValidationError(ReasonNoPrice)
			a.Reject(order, err)
			return err
		}
	}

	a.mu.Lock()
	err := a.engine.ValidatePlaceOrder(a.ledger, order, price)
	a.mu.Unlock()
	if err != nil {
		a.Reject(order, err)
		return err
	}

	if order.Type != models.OrderTypeMarket {
		// the simulator has no venue book, so every resting order is held here
		if err := a.HoldServerSide(order); err != nil {
			a.Reject(order, err)
			return err
		}

		return nil
	}

	a.Track(order)

	return a.execute(ctx, order.UserID, price)
}

// execute fills a tracked order at price and publishes the resulting changes.
func (a *Adapter) execute(ctx context.Context, userID string, price float64) error {
	order, ok := a.OrderTable().Get(userID)
	if !ok {
		return broker.ErrOrderNotFound
	}

	a.mu.Lock()
	result, err := a.engine.Fill(ctx, a.ledger, order, price, a.Now())
	var account models.AccountInfo
	if err == nil {
		account = a.ledger.Account
	}
	a.mu.Unlock()

	if err != nil {
		a.Reject(order, err)
		return err
	}

	filled, err := a.ApplyUpdate(userID, func(o *models.Order) error {
		*o = *result.Order.Clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("simulator.execute: %w", err)
	}

	a.syncPositions(result.Position)
	a.UpdateAccount(func(info *models.AccountInfo) { *info = account })

	if filled.Status == models.OrderStatusFilled && (filled.SLOffset != nil || filled.TPOffset != nil) {
		a.HoldProtection(filled)
	}

	a.checkLiquidation(ctx)

	return nil
}

func (a *Adapter) syncPositions(positions ...models.Position) {
	changed := make([]*models.Position, 0, len(positions))
	for i := range positions {
		p := positions[i]
		a.PositionTable().Set(&p)
		changed = append(changed, &p)
	}

	a.Events().PublishPositionsChanged(changed...)
}

// checkLiquidation closes every position once when equity is exhausted.
func (a *Adapter) checkLiquidation(ctx context.Context) {
	if !a.engine.Policy().LiquidatesOnZeroEquity() {
		return
	}

	a.mu.Lock()
	if a.liquidating || a.ledger == nil || a.ledger.Account.Equity > 0 || !a.ledger.HasPositions() {
		a.mu.Unlock()
		return
	}

	a.liquidating = true
	equity := a.ledger.Account.Equity
	positions := a.ledger.Positions()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.liquidating = false
		a.mu.Unlock()
	}()

	log.Warnf("%s: equity %.2f, liquidating %d positions", a.Name(), equity, len(positions))

	for _, p := range positions {
		side := models.SideSell
		if p.Quantity < 0 {
			side = models.SideBuy
		}

		qty := p.Quantity
		if qty < 0 {
			qty = -qty
		}

		price := p.CurrentPrice
		if last, ok := a.Price(p.Symbol); ok {
			price = last
		}

		order := models.NewOrder(p.AccountID, p.Symbol, side, models.OrderTypeMarket, models.TimeInForceFillOrKill, qty, 0)
		order.Tag = LiquidationTag
		order.PlacedDate = a.Now()
		a.Track(order)

		if err := a.execute(ctx, order.UserID, price); err != nil {
			log.Errorf("%s: failed to liquidate %s: %v", a.Name(), p.Symbol, err)
		}
	}
}

func (a *Adapter) OnPrice(symbol string, price float64) {
	if !a.IsStarted() || price <= 0 {
		return
	}

	triggered := a.TriggeredOrders(symbol, price)

	a.mu.Lock()
	var position models.Position
	var account models.AccountInfo
	marked := false
	if a.ledger != nil {
		position, marked = a.engine.Mark(a.ledger, symbol, price)
		account = a.ledger.Account
	}
	a.mu.Unlock()

	if marked {
		a.syncPositions(position)
		a.UpdateAccount(func(info *models.AccountInfo) { *info = account })
	}

	ctx := context.Background()
	a.checkLiquidation(ctx)

	for _, order := range triggered {
		if err := a.execute(ctx, order.UserID, price); err != nil {
			log.Warnf("%s: triggered order %s not filled: %v", a.Name(), order.UserID, err)
		}
	}
}

// markToMarket revalues all positions and retries pending store writes.
func (a *Adapter) markToMarket(ctx context.Context) {
	if !a.IsStarted() {
		return
	}

	a.mu.Lock()
	if a.ledger == nil {
		a.mu.Unlock()
		return
	}

	var changed []models.Position
	for _, p := range a.ledger.Positions() {
		if price, ok := a.Price(p.Symbol); ok {
			if marked, ok := a.engine.Mark(a.ledger, p.Symbol, price); ok {
				changed = append(changed, marked)
			}
		}
	}

	account := a.ledger.Account
	err := a.engine.Flush(ctx, a.ledger)
	a.mu.Unlock()

	if err != nil {
		a.HandleFailure("markToMarket", err)
	}

	if len(changed) > 0 {
		a.syncPositions(changed...)
		a.UpdateAccount(func(info *models.AccountInfo) { *info = account })
	}

	a.checkLiquidation(ctx)
}

func (a *Adapter) CancelOrder(ctx context.Context, order *models.Order) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	if !a.CancelServerSide(order.UserID) {
		return broker.NewValidationError("order %s is not open", order.UserID)
	}

	return nil
}

// ModifyOrder always updates offsets locally since the simulator holds every resting order.
func (a *Adapter) ModifyOrder(ctx context.Context, order *models.Order, sl, tp *float64, isServerSide bool) error {
	if !a.IsStarted() {
		return broker.ErrCannotTrade
	}

	return a.ModifyServerSide(order.UserID, sl, tp)
}

func NewAdapter(cfg Config, accounts store.AccountStore, positions store.PositionStore) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "simulator"
	}

	if cfg.BrokerName == "" {
		cfg.BrokerName = cfg.Name
	}

	if cfg.Policy == nil {
		cfg.Policy = MarginPolicy{}
	}

	if cfg.MarkInterval <= 0 {
		cfg.MarkInterval = DefaultMarkInterval
	}

	a := &Adapter{
		Base:       broker.NewBase(cfg.Name, cfg.ReconnectWindow, cfg.Now),
		brokerName: cfg.BrokerName,
		engine:     NewEngine(cfg.Policy, cfg.Commission, cfg.Instruments, accounts, positions),
		accounts:   accounts,
		positions:  positions,
	}

	a.marker = worker.NewPeriodic(cfg.Name+" mark to market", cfg.MarkInterval, a.markToMarket)

	return a
}

var _ broker.Adapter = (*Adapter)(nil)
