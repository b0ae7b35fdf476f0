package restvenue

import (
	"fmt"
	"time"

	"github.com/jiaming2012/broker-bridge/src/converter"
	"github.com/jiaming2012/broker-bridge/src/polladapter"
)

// Amounts arrive as decimal strings.

type SessionDTO struct {
	Token string `json:"token"`
}

type OrderDTO struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Status        string `json:"status"`
	OrigQty       string `json:"orig_qty"`
	Price         string `json:"price"`
	ExecutedQty   string `json:"executed_qty"`
	AvgPrice      string `json:"avg_price"`
	Time          int64  `json:"time"`
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}

func parseAmounts(fields map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(fields))
	for name, raw := range fields {
		v, err := converter.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}

		out[name] = v
	}

	return out, nil
}

func (dto OrderDTO) ToSnapshot() (polladapter.OrderSnapshot, error) {
	amounts, err := parseAmounts(map[string]string{
		"orig_qty":     dto.OrigQty,
		"price":        dto.Price,
		"executed_qty": dto.ExecutedQty,
		"avg_price":    dto.AvgPrice,
	})
	if err != nil {
		return polladapter.OrderSnapshot{}, fmt.Errorf("OrderDTO.ToSnapshot: order %s: %w", dto.ID, err)
	}

	return polladapter.OrderSnapshot{
		ID:             dto.ID,
		ClientID:       dto.ClientOrderID,
		Symbol:         dto.Symbol,
		Side:           dto.Side,
		Type:           dto.Type,
		TimeInForce:    dto.TimeInForce,
		Status:         dto.Status,
		Quantity:       amounts["orig_qty"],
		Price:          amounts["price"],
		FilledQuantity: amounts["executed_qty"],
		AvgFillPrice:   amounts["avg_price"],
		Time:           millis(dto.Time),
	}, nil
}

type TradeDTO struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Qty        string `json:"qty"`
	Price      string `json:"price"`
	Commission string `json:"commission"`
	Time       int64  `json:"time"`
}

func (dto TradeDTO) ToTrade() (polladapter.Trade, error) {
	amounts, err := parseAmounts(map[string]string{
		"qty":        dto.Qty,
		"price":      dto.Price,
		"commission": dto.Commission,
	})
	if err != nil {
		return polladapter.Trade{}, fmt.Errorf("TradeDTO.ToTrade: trade %s: %w", dto.ID, err)
	}

	return polladapter.Trade{
		ID:         dto.ID,
		OrderID:    dto.OrderID,
		Quantity:   amounts["qty"],
		Price:      amounts["price"],
		Commission: amounts["commission"],
		Time:       millis(dto.Time),
	}, nil
}

type PositionDTO struct {
	Symbol        string `json:"symbol"`
	PositionAmt   string `json:"position_amt"`
	EntryPrice    string `json:"entry_price"`
	MarkPrice     string `json:"mark_price"`
	Margin        string `json:"margin"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func (dto PositionDTO) ToMarginPosition() (polladapter.MarginPosition, error) {
	amounts, err := parseAmounts(map[string]string{
		"position_amt":   dto.PositionAmt,
		"entry_price":    dto.EntryPrice,
		"mark_price":     dto.MarkPrice,
		"margin":         dto.Margin,
		"unrealized_pnl": dto.UnrealizedPnL,
	})
	if err != nil {
		return polladapter.MarginPosition{}, fmt.Errorf("PositionDTO.ToMarginPosition: %s: %w", dto.Symbol, err)
	}

	return polladapter.MarginPosition{
		Symbol:       dto.Symbol,
		Quantity:     amounts["position_amt"],
		AvgPrice:     amounts["entry_price"],
		CurrentPrice: amounts["mark_price"],
		Margin:       amounts["margin"],
		Profit:       amounts["unrealized_pnl"],
	}, nil
}

type BalanceDTO struct {
	Wallet string `json:"wallet"`
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (dto BalanceDTO) ToBalance() (polladapter.Balance, error) {
	amounts, err := parseAmounts(map[string]string{"free": dto.Free, "locked": dto.Locked})
	if err != nil {
		return polladapter.Balance{}, fmt.Errorf("BalanceDTO.ToBalance: %s: %w", dto.Asset, err)
	}

	return polladapter.Balance{
		Wallet: dto.Wallet,
		Asset:  dto.Asset,
		Free:   amounts["free"],
		Locked: amounts["locked"],
	}, nil
}

type AccountDTO struct {
	AccountID     string `json:"account_id"`
	Currency      string `json:"currency"`
	Balance       string `json:"balance"`
	Margin        string `json:"margin"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func (dto AccountDTO) ToAccountSummary() (polladapter.AccountSummary, error) {
	amounts, err := parseAmounts(map[string]string{
		"balance":        dto.Balance,
		"margin":         dto.Margin,
		"unrealized_pnl": dto.UnrealizedPnL,
	})
	if err != nil {
		return polladapter.AccountSummary{}, fmt.Errorf("AccountDTO.ToAccountSummary: %w", err)
	}

	return polladapter.AccountSummary{
		AccountID: dto.AccountID,
		Currency:  dto.Currency,
		Balance:   amounts["balance"],
		Margin:    amounts["margin"],
		Profit:    amounts["unrealized_pnl"],
	}, nil
}

type PlaceOrderDTO struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force,omitempty"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
}

func NewPlaceOrderDTO(req polladapter.OrderRequest) PlaceOrderDTO {
	dto := PlaceOrderDTO{
		ClientOrderID: req.ClientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      converter.FormatAmount(req.Quantity),
	}

	if req.Type != "MARKET" {
		dto.TimeInForce = req.TimeInForce
	}

	if req.Price > 0 {
		dto.Price = converter.FormatAmount(req.Price)
	}

	return dto
}

type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"msg"`
}
