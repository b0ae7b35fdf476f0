package simulator

import (
	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
)

// ExchangePolicy is a cash account: buys are paid from the balance and sells
// need a long position to sell from.
type ExchangePolicy struct{}

func (ExchangePolicy) Name() string {
	return "exchange"
}

func (p ExchangePolicy) ValidatePlaceOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error {
	qty := order.OpenQuantity
	if qty <= 0 {
		qty = order.Quantity
	}

	if order.Side == models.SideBuy {
		if inst.Notional(qty, price) > ledger.Account.Balance+quantityTolerance {
			return broker.NewValidationError(ReasonBalanceTooLow)
		}

		return nil
	}

	position := ledger.Position(order.Symbol)
	if position == nil || position.Quantity+quantityTolerance < qty {
		return broker.NewValidationError(ReasonBuyBeforeSell)
	}

	return nil
}

func (p ExchangePolicy) ValidateFillOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error {
	return p.ValidatePlaceOrder(ledger, order, price, inst)
}

func (ExchangePolicy) UpdatePosition(ledger *Ledger, order *models.Order, qty, price float64, inst Instrument) float64 {
	notional := inst.Notional(qty, price)
	position := ledger.Position(order.Symbol)

	if order.Side == models.SideBuy {
		ledger.Account.Balance -= notional

		if position == nil {
			position = &models.Position{
				AccountID:  ledger.Account.ID,
				UserID:     ledger.Account.UserID,
				BrokerName: ledger.Account.BrokerName,
				Symbol:     order.Symbol,
			}
		}

		position.AvgPrice = (position.AvgPrice*position.Quantity + price*qty) / (position.Quantity + qty)
		position.SetQuantity(position.Quantity + qty)
		position.CurrentPrice = price
		ledger.SetPosition(position)

		return 0
	}

	if position == nil {
		return 0
	}

	ledger.Account.Balance += notional
	realized := inst.Notional(qty, price-position.AvgPrice)
	ledger.Account.RealizedProfit += realized

	position.SetQuantity(position.Quantity - qty)
	position.CurrentPrice = price
	ledger.SetPosition(position)

	return realized
}

func (ExchangePolicy) PositionMargin(*models.Position, Instrument) float64 {
	return 0
}

func (ExchangePolicy) LiquidatesOnZeroEquity() bool {
	return false
}
