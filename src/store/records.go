package store

import (
	"gorm.io/gorm"

	"github.com/jiaming2012/broker-bridge/src/models"
)

type AccountRecord struct {
	gorm.Model
	UserID          string  `gorm:"column:user_id;type:text;not null;uniqueIndex:idx_account_user_account"`
	AccountID       string  `gorm:"column:account_id;type:text;not null;uniqueIndex:idx_account_user_account"`
	BrokerName      string  `gorm:"column:broker;type:text"`
	Currency        string  `gorm:"column:currency;type:text"`
	Balance         float64 `gorm:"column:balance;type:numeric;not null"`
	RealizedProfit  float64 `gorm:"column:realized_profit;type:numeric;not null;default:0"`
	IsMarginAccount bool    `gorm:"column:is_margin_account;not null;default:false"`
}

func (AccountRecord) TableName() string {
	return "simulated_accounts"
}

func (r *AccountRecord) ToAccountInfo() models.AccountInfo {
	info := models.AccountInfo{
		ID:              r.AccountID,
		UserID:          r.UserID,
		BrokerName:      r.BrokerName,
		Currency:        r.Currency,
		Balance:         r.Balance,
		RealizedProfit:  r.RealizedProfit,
		IsMarginAccount: r.IsMarginAccount,
	}

	info.RecalculateEquity()
	return info
}

func NewAccountRecord(info models.AccountInfo) *AccountRecord {
	return &AccountRecord{
		UserID:          info.UserID,
		AccountID:       info.ID,
		BrokerName:      info.BrokerName,
		Currency:        info.Currency,
		Balance:         info.Balance,
		RealizedProfit:  info.RealizedProfit,
		IsMarginAccount: info.IsMarginAccount,
	}
}

type PositionRecord struct {
	gorm.Model
	UserID       string  `gorm:"column:user_id;type:text;not null;uniqueIndex:idx_position_key"`
	AccountID    string  `gorm:"column:account_id;type:text;not null;uniqueIndex:idx_position_key"`
	BrokerName   string  `gorm:"column:broker;type:text;not null;uniqueIndex:idx_position_key"`
	Symbol       string  `gorm:"column:symbol;type:text;not null;uniqueIndex:idx_position_key"`
	Quantity     float64 `gorm:"column:quantity;type:numeric;not null"`
	AvgPrice     float64 `gorm:"column:avg_price;type:numeric;not null"`
	CurrentPrice float64 `gorm:"column:current_price;type:numeric"`
}

func (PositionRecord) TableName() string {
	return "simulated_positions"
}

func (r *PositionRecord) ToPosition() models.Position {
	p := models.Position{
		UserID:       r.UserID,
		AccountID:    r.AccountID,
		BrokerName:   r.BrokerName,
		Symbol:       r.Symbol,
		AvgPrice:     r.AvgPrice,
		CurrentPrice: r.CurrentPrice,
	}

	p.SetQuantity(r.Quantity)
	return p
}

func NewPositionRecord(p models.Position) *PositionRecord {
	return &PositionRecord{
		UserID:       p.UserID,
		AccountID:    p.AccountID,
		BrokerName:   p.BrokerName,
		Symbol:       p.Symbol,
		Quantity:     p.Quantity,
		AvgPrice:     p.AvgPrice,
		CurrentPrice: p.CurrentPrice,
	}
}
