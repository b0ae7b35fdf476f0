package broker

import (
	"context"

	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/pubsub"
)

type Adapter interface {
	Name() string
	Login(ctx context.Context, creds Credentials) error
	Start(ctx context.Context) error
	Stop()
	PlaceOrder(ctx context.Context, order *models.Order) error
	CancelOrder(ctx context.Context, order *models.Order) error
	ModifyOrder(ctx context.Context, order *models.Order, sl, tp *float64, isServerSide bool) error
	OnPrice(symbol string, price float64)
	Orders() []*models.Order
	OpenOrders() []*models.Order
	Positions() []*models.Position
	Account() models.AccountInfo
	State() State
	Events() *pubsub.Bus
}
