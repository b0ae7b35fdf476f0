package models

import "fmt"

type Position struct {
	UserID       string       `json:"user_id"`
	AccountID    string       `json:"account_id"`
	BrokerName   string       `json:"broker_name"`
	Symbol       string       `json:"symbol"`
	Quantity     float64      `json:"quantity"`
	Side         PositionSide `json:"side"`
	AvgPrice     float64      `json:"avg_price"`
	CurrentPrice float64      `json:"current_price"`
	Margin       float64      `json:"margin"`
	Profit       float64      `json:"profit"`
}

func (p *Position) String() string {
	return fmt.Sprintf("Position %s: %.4f (%s) @ %.4f, current %.4f, margin %.2f, profit %.2f", p.Symbol, p.Quantity, p.Side, p.AvgPrice, p.CurrentPrice, p.Margin, p.Profit)
}

// SetQuantity keeps Side consistent with the sign of Quantity.
func (p *Position) SetQuantity(quantity float64) {
	if quantity > -quantityEpsilon && quantity < quantityEpsilon {
		quantity = 0
	}

	p.Quantity = quantity
	p.Side = PositionSideFromQuantity(quantity)
}

func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}

func NewPosition(accountID, symbol string, quantity, avgPrice float64) *Position {
	p := &Position{
		AccountID:    accountID,
		Symbol:       symbol,
		AvgPrice:     avgPrice,
		CurrentPrice: avgPrice,
	}

	p.SetQuantity(quantity)

	return p
}
