package pubsub

import "github.com/jiaming2012/broker-bridge/src/models"

type OrderRejected struct {
	Order  *models.Order
	Reason string
}

// OrdersChanged is published when orders enter or leave the open set.
type OrdersChanged struct {
	Orders []*models.Order
}

// OrdersUpdated is published when fields of known orders change.
type OrdersUpdated struct {
	Orders []*models.Order
}

type PositionsChanged struct {
	Positions []*models.Position
}

type AccountStateChanged struct {
	Account models.AccountInfo
}

type Error struct {
	Source  string
	Message string
}
