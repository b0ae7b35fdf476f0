package simulator

import (
	"fmt"
	"math"

	"github.com/jiaming2012/broker-bridge/src/models"
)

const (
	ReasonBalanceTooLow = "Account balance is too low"
	ReasonBuyBeforeSell = "Please buy before sell"
	ReasonNoPrice       = "no price available"
	quantityTolerance   = 1e-9
)

// Policy is the accounting model of a simulated venue. Policies are stateless:
// every call works on the ledger it is given.
type Policy interface {
	Name() string
	ValidatePlaceOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error
	ValidateFillOrder(ledger *Ledger, order *models.Order, price float64, inst Instrument) error
	// UpdatePosition applies a fill of qty at price and returns the realized PnL.
	UpdatePosition(ledger *Ledger, order *models.Order, qty, price float64, inst Instrument) float64
	PositionMargin(p *models.Position, inst Instrument) float64
	LiquidatesOnZeroEquity() bool
}

func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", "margin":
		return MarginPolicy{}, nil
	case "exchange":
		return ExchangePolicy{}, nil
	}

	return nil, fmt.Errorf("NewPolicy: unknown simulator policy %q", name)
}

func isZero(qty float64) bool {
	return math.Abs(qty) < quantityTolerance
}

// markPosition sets the mark-to-market profit of p at its current price.
func markPosition(p *models.Position, inst Instrument) {
	p.Profit = (p.CurrentPrice - p.AvgPrice) * p.Quantity * inst.ContractSize * inst.FXRate
}
