package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/store"
)

type FillResult struct {
	Order      *models.Order
	Position   models.Position
	Realized   float64
	Commission float64
}

// Engine fills orders against a ledger and persists what changed.
type Engine struct {
	policy      Policy
	commission  CommissionCalculator
	instruments Instruments
	accounts    store.AccountStore
	positions   store.PositionStore
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) Instrument(symbol string) Instrument {
	return e.instruments.Get(symbol)
}

func (e *Engine) ValidatePlaceOrder(ledger *Ledger, order *models.Order, price float64) error {
	return e.policy.ValidatePlaceOrder(ledger, order, price, e.Instrument(order.Symbol))
}

// Fill executes the open quantity of order at price. The order is mutated in place.
// Store failures are logged and retried by the next Flush.
func (e *Engine) Fill(ctx context.Context, ledger *Ledger, order *models.Order, price float64, at time.Time) (*FillResult, error) {
	if !order.IsActive() {
		return nil, broker.NewValidationError("order %s is not active", order.UserID)
	}

	if price <= 0 {
		return nil, broker.NewValidationError(ReasonNoPrice)
	}

	inst := e.Instrument(order.Symbol)
	if err := e.policy.ValidateFillOrder(ledger, order, price, inst); err != nil {
		return nil, err
	}

	qty := order.OpenQuantity
	realized := e.policy.UpdatePosition(ledger, order, qty, price, inst)

	if err := order.ApplyFill(qty, price, at); err != nil {
		return nil, fmt.Errorf("Engine.Fill: %w", err)
	}

	commission := e.commission.Calculate(order, inst.Notional(qty, price), qty)
	ledger.Account.Balance -= commission

	position := models.Position{Symbol: order.Symbol, AccountID: ledger.Account.ID, UserID: ledger.Account.UserID, BrokerName: ledger.Account.BrokerName}
	if p := ledger.Position(order.Symbol); p != nil {
		e.mark(p, price, inst)
		position = *p
	}

	ledger.Recalculate()
	ledger.accountDirty = true

	log.Infof("Engine.Fill: %s %.4f %s @ %.5f, realized %.2f, commission %.2f, balance %.2f, equity %.2f", order.Side, qty, order.Symbol, price, realized, commission, ledger.Account.Balance, ledger.Account.Equity)

	if err := e.Flush(ctx, ledger); err != nil {
		log.Errorf("Engine.Fill: failed to persist fill of %s: %v", order.UserID, err)
	}

	return &FillResult{
		Order:      order,
		Position:   position,
		Realized:   realized,
		Commission: commission,
	}, nil
}

func (e *Engine) mark(p *models.Position, price float64, inst Instrument) {
	p.CurrentPrice = price
	markPosition(p, inst)
	p.Margin = e.policy.PositionMargin(p, inst)
}

// Mark revalues the position in symbol at price. It reports false when there is none.
func (e *Engine) Mark(ledger *Ledger, symbol string, price float64) (models.Position, bool) {
	p := ledger.Position(symbol)
	if p == nil {
		return models.Position{}, false
	}

	e.mark(p, price, e.Instrument(symbol))
	ledger.Recalculate()

	return *p, true
}

// MarkAll revalues every position at its last known price.
func (e *Engine) MarkAll(ledger *Ledger) {
	for _, p := range ledger.positions {
		price := p.CurrentPrice
		if price <= 0 {
			price = p.AvgPrice
		}

		e.mark(p, price, e.Instrument(p.Symbol))
	}

	ledger.Recalculate()
}

// Flush saves the positions and account changed since the last successful flush.
func (e *Engine) Flush(ctx context.Context, ledger *Ledger) error {
	var errs []error

	for symbol, p := range ledger.dirty {
		if current := ledger.Position(symbol); current != nil {
			p = *current
		}

		if err := e.positions.SavePosition(ctx, p, true); err != nil {
			errs = append(errs, fmt.Errorf("position %s: %w", symbol, err))
			continue
		}

		delete(ledger.dirty, symbol)
	}

	if ledger.accountDirty {
		if err := e.accounts.SaveAccountDetails(ctx, ledger.Account); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", ledger.Account.ID, err))
		} else {
			ledger.accountDirty = false
		}
	}

	return errors.Join(errs...)
}

func NewEngine(policy Policy, commission CommissionCalculator, instruments Instruments, accounts store.AccountStore, positions store.PositionStore) *Engine {
	if commission == nil {
		commission = NoCommission{}
	}

	return &Engine{
		policy:      policy,
		commission:  commission,
		instruments: instruments,
		accounts:    accounts,
		positions:   positions,
	}
}
