package store

import (
	"context"
	"fmt"

	"github.com/jiaming2012/broker-bridge/src/models"
)

var ErrNotFound = fmt.Errorf("record not found")

type AccountStore interface {
	VerifyAccount(ctx context.Context, userID, accountID string) (bool, error)
	GetAccountDetails(ctx context.Context, userID, accountID string) (models.AccountInfo, error)
	SaveAccountDetails(ctx context.Context, info models.AccountInfo) error
}

// PositionStore persists netting positions. Saving a flat position deletes it.
type PositionStore interface {
	GetPositions(ctx context.Context, userID, accountID, brokerName string) ([]models.Position, error)
	SavePosition(ctx context.Context, position models.Position, upsert bool) error
}
