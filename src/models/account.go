package models

import "fmt"

type AccountInfo struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	BrokerName      string  `json:"broker_name"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	Equity          float64 `json:"equity"`
	Margin          float64 `json:"margin"`
	// Profit is the unrealized mark of the open positions only.
	Profit          float64 `json:"profit"`
	// RealizedProfit accumulates the PnL of closed quantity. The same amount is
	// already credited to Balance, so it is informational and not part of Equity.
	RealizedProfit  float64 `json:"realized_profit"`
	IsMarginAccount bool    `json:"is_margin_account"`
}

func (a *AccountInfo) String() string {
	return fmt.Sprintf("Account %s (%s): balance %.2f %s, equity %.2f, margin %.2f, profit %.2f", a.ID, a.BrokerName, a.Balance, a.Currency, a.Equity, a.Margin, a.Profit)
}

// Recalculate derives Profit, Margin and Equity from the open positions.
func (a *AccountInfo) Recalculate(positions []Position) {
	profit := 0.0
	margin := 0.0
	for _, p := range positions {
		profit += p.Profit
		margin += p.Margin
	}

	a.Profit = profit
	a.Margin = margin
	a.RecalculateEquity()
}

func (a *AccountInfo) RecalculateEquity() {
	a.Equity = a.Balance + a.Profit
}

func (a *AccountInfo) FreeMargin() float64 {
	return a.Equity - a.Margin
}
