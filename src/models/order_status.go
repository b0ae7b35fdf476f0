package models

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusUnknown         OrderStatus = "unknown"
)

func (status OrderStatus) IsTradingAllowed() bool {
	return status == OrderStatusPending || status == OrderStatusOpen || status == OrderStatusPartiallyFilled
}

func (status OrderStatus) IsFinal() bool {
	return status == OrderStatusFilled || status == OrderStatusCancelled || status == OrderStatusRejected || status == OrderStatusExpired
}
