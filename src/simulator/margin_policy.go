package simulator

import (
	"math"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
)

// MarginPolicy keeps one netting position per symbol. A fill may close, reduce,
// add to or reverse the position.
type MarginPolicy struct{}

func (MarginPolicy) Name() string {
	return "margin"
}

func (p MarginPolicy) ValidatePlaceOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error {
	qty := order.OpenQuantity
	if qty <= 0 {
		qty = order.Quantity
	}

	freeMargin := ledger.Account.FreeMargin()

	if position := ledger.Position(order.Symbol); position != nil && position.Quantity*order.Side.Sign() < 0 {
		if qty <= math.Abs(position.Quantity)+quantityTolerance {
			return nil
		}

		freeMargin += position.Margin
	}

	required := inst.Notional(qty, price) * inst.MarginRate
	if freeMargin+quantityTolerance < required {
		return broker.NewValidationError(ReasonBalanceTooLow)
	}

	return nil
}

func (p MarginPolicy) ValidateFillOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error {
	return p.ValidatePlaceOrder(ledger, order, price, inst)
}

func (MarginPolicy) UpdatePosition(ledger *Ledger, order *models.Order, qty, price float64, inst Instrument) float64 {
	sign := order.Side.Sign()
	position := ledger.Position(order.Symbol)
	if position == nil {
		position = &models.Position{
			AccountID:  ledger.Account.ID,
			UserID:     ledger.Account.UserID,
			BrokerName: ledger.Account.BrokerName,
			Symbol:     order.Symbol,
		}
	}

	position.CurrentPrice = price
	realized := 0.0
	remaining := qty

	if position.Quantity*sign < 0 {
		closed := math.Min(qty, math.Abs(position.Quantity))
		realized = inst.FXRate * closed * inst.ContractSize * (position.AvgPrice - price) * sign
		remaining = qty - closed

		position.SetQuantity(position.Quantity + sign*closed)
		ledger.Account.Balance += realized
		ledger.Account.RealizedProfit += realized
	}

	if !isZero(remaining) {
		if position.Quantity == 0 {
			position.AvgPrice = price
		} else {
			held := math.Abs(position.Quantity)
			position.AvgPrice = (position.AvgPrice*held + price*remaining) / (held + remaining)
		}

		position.SetQuantity(position.Quantity + sign*remaining)
	}

	ledger.SetPosition(position)
	return realized
}

func (MarginPolicy) PositionMargin(p *models.Position, inst Instrument) float64 {
	return math.Abs(p.Quantity) * p.AvgPrice * inst.ContractSize * inst.FXRate * inst.MarginRate
}

func (MarginPolicy) LiquidatesOnZeroEquity() bool {
	return true
}
