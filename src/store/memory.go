package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jiaming2012/broker-bridge/src/models"
)

type accountKey struct {
	userID    string
	accountID string
}

type positionKey struct {
	userID     string
	accountID  string
	brokerName string
	symbol     string
}

type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[accountKey]models.AccountInfo
	positions map[positionKey]models.Position
}

func (s *MemoryStore) VerifyAccount(ctx context.Context, userID, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[accountKey{userID, accountID}]
	return ok, nil
}

func (s *MemoryStore) GetAccountDetails(ctx context.Context, userID, accountID string) (models.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.accounts[accountKey{userID, accountID}]
	if !ok {
		return models.AccountInfo{}, fmt.Errorf("MemoryStore.GetAccountDetails: %s/%s: %w", userID, accountID, ErrNotFound)
	}

	return info, nil
}

func (s *MemoryStore) SaveAccountDetails(ctx context.Context, info models.AccountInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[accountKey{info.UserID, info.ID}] = info
	return nil
}

func (s *MemoryStore) GetPositions(ctx context.Context, userID, accountID, brokerName string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Position
	for key, p := range s.positions {
		if key.userID == userID && key.accountID == accountID && key.brokerName == brokerName {
			result = append(result, p)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result, nil
}

func (s *MemoryStore) SavePosition(ctx context.Context, position models.Position, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{position.UserID, position.AccountID, position.BrokerName, position.Symbol}

	if position.Quantity == 0 {
		delete(s.positions, key)
		return nil
	}

	if _, ok := s.positions[key]; !ok && !upsert {
		return fmt.Errorf("MemoryStore.SavePosition: %s: %w", position.Symbol, ErrNotFound)
	}

	s.positions[key] = position
	return nil
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[accountKey]models.AccountInfo),
		positions: make(map[positionKey]models.Position),
	}
}
