package simulator

import (
	"fmt"

	"github.com/jiaming2012/broker-bridge/src/models"
)

type CommissionCalculator interface {
	Calculate(order *models.Order, notional, filledQty float64) float64
}

type PerContractCommission struct {
	Rate float64
}

func (c PerContractCommission) Calculate(order *models.Order, notional, filledQty float64) float64 {
	return c.Rate * filledQty
}

// PercentCommission charges Rate percent of the gross notional.
type PercentCommission struct {
	Rate float64
}

func (c PercentCommission) Calculate(order *models.Order, notional, filledQty float64) float64 {
	return notional * c.Rate / 100
}

type NoCommission struct{}

func (NoCommission) Calculate(*models.Order, float64, float64) float64 {
	return 0
}

func NewCommissionCalculator(kind string, rate float64) (CommissionCalculator, error) {
	switch kind {
	case "", "none":
		return NoCommission{}, nil
	case "per_contract":
		return PerContractCommission{Rate: rate}, nil
	case "percent":
		return PercentCommission{Rate: rate}, nil
	}

	return nil, fmt.Errorf("NewCommissionCalculator: unknown commission type %q", kind)
}
