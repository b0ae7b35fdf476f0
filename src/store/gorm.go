package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jiaming2012/broker-bridge/src/logger"
	"github.com/jiaming2012/broker-bridge/src/models"
)

// GormStore persists simulated accounts and positions in postgres.
type GormStore struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewLogrusLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&AccountRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.AutoMigrate(&PositionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (s *GormStore) VerifyAccount(ctx context.Context, userID, accountID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AccountRecord{}).Where("user_id = ? AND account_id = ?", userID, accountID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("GormStore.VerifyAccount: %w", err)
	}

	return count > 0, nil
}

func (s *GormStore) GetAccountDetails(ctx context.Context, userID, accountID string) (models.AccountInfo, error) {
	var rec AccountRecord
	err := s.db.WithContext(ctx).Where("user_id = ? AND account_id = ?", userID, accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AccountInfo{}, fmt.Errorf("GormStore.GetAccountDetails: %s/%s: %w", userID, accountID, ErrNotFound)
	}

	if err != nil {
		return models.AccountInfo{}, fmt.Errorf("GormStore.GetAccountDetails: %w", err)
	}

	return rec.ToAccountInfo(), nil
}

func (s *GormStore) SaveAccountDetails(ctx context.Context, info models.AccountInfo) error {
	rec := NewAccountRecord(info)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"broker", "currency", "balance", "realized_profit", "is_margin_account", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("GormStore.SaveAccountDetails: %w", err)
	}

	return nil
}

func (s *GormStore) GetPositions(ctx context.Context, userID, accountID, brokerName string) ([]models.Position, error) {
	var recs []PositionRecord
	if err := s.db.WithContext(ctx).Where("user_id = ? AND account_id = ? AND broker = ?", userID, accountID, brokerName).Order("symbol").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("GormStore.GetPositions: %w", err)
	}

	positions := make([]models.Position, 0, len(recs))
	for _, rec := range recs {
		positions = append(positions, rec.ToPosition())
	}

	return positions, nil
}

func (s *GormStore) SavePosition(ctx context.Context, position models.Position, upsert bool) error {
	where := s.db.WithContext(ctx).Where("user_id = ? AND account_id = ? AND broker = ? AND symbol = ?", position.UserID, position.AccountID, position.BrokerName, position.Symbol)

	if position.Quantity == 0 {
		if err := where.Unscoped().Delete(&PositionRecord{}).Error; err != nil {
			return fmt.Errorf("GormStore.SavePosition: failed to delete %s: %w", position.Symbol, err)
		}

		return nil
	}

	if !upsert {
		res := where.Model(&PositionRecord{}).Updates(map[string]interface{}{
			"quantity":      position.Quantity,
			"avg_price":     position.AvgPrice,
			"current_price": position.CurrentPrice,
			"updated_at":    time.Now(),
		})
		if res.Error != nil {
			return fmt.Errorf("GormStore.SavePosition: failed to update %s: %w", position.Symbol, res.Error)
		}

		if res.RowsAffected == 0 {
			return fmt.Errorf("GormStore.SavePosition: %s: %w", position.Symbol, ErrNotFound)
		}

		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "account_id"}, {Name: "broker"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price", "current_price", "updated_at"}),
	}).Create(NewPositionRecord(position)).Error
	if err != nil {
		return fmt.Errorf("GormStore.SavePosition: failed to upsert %s: %w", position.Symbol, err)
	}

	return nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}
