package converter

import "github.com/jiaming2012/broker-bridge/src/models"

var sessionOrderStatus = map[string]models.OrderStatus{
	"PENDINGNEW":      models.OrderStatusPending,
	"PENDING":         models.OrderStatusPending,
	"WORKING":         models.OrderStatusOpen,
	"ACCEPTED":        models.OrderStatusOpen,
	"PARTIALLYFILLED": models.OrderStatusPartiallyFilled,
	"FILLED":          models.OrderStatusFilled,
	"CANCELLED":       models.OrderStatusCancelled,
	"CANCELED":        models.OrderStatusCancelled,
	"REJECTED":        models.OrderStatusRejected,
	"EXPIRED":         models.OrderStatusExpired,
}

var restOrderStatus = map[string]models.OrderStatus{
	"PENDING_NEW":      models.OrderStatusPending,
	"NEW":              models.OrderStatusOpen,
	"PARTIALLY_FILLED": models.OrderStatusPartiallyFilled,
	"FILLED":           models.OrderStatusFilled,
	"PENDING_CANCEL":   models.OrderStatusOpen,
	"CANCELED":         models.OrderStatusCancelled,
	"CANCELLED":        models.OrderStatusCancelled,
	"REJECTED":         models.OrderStatusRejected,
	"EXPIRED":          models.OrderStatusExpired,
	"EXPIRED_IN_MATCH": models.OrderStatusExpired,
}

func ToOrderStatus(dialect Dialect, s string) models.OrderStatus {
	table := sessionOrderStatus
	if dialect == DialectRest {
		table = restOrderStatus
	}

	if status, ok := table[normalize(s)]; ok {
		return status
	}

	return models.OrderStatusUnknown
}
