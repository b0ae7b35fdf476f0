package pubsub

type EventName string

const (
	OrderRejectedEvent       EventName = "OrderRejected"
	OrdersChangedEvent       EventName = "OrdersChanged"
	OrdersUpdatedEvent       EventName = "OrdersUpdated"
	PositionsChangedEvent    EventName = "PositionsChanged"
	AccountStateChangedEvent EventName = "AccountStateChanged"
	ErrorEvent               EventName = "Error"
)

var topics = []EventName{
	OrderRejectedEvent,
	OrdersChangedEvent,
	OrdersUpdatedEvent,
	PositionsChangedEvent,
	AccountStateChangedEvent,
	ErrorEvent,
}
