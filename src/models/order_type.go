package models

type OrderType string

const (
	OrderTypeMarket  OrderType = "market"
	OrderTypeLimit   OrderType = "limit"
	OrderTypeStop    OrderType = "stop"
	OrderTypeUnknown OrderType = "unknown"
)
