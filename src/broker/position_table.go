package broker

import (
	"sort"
	"sync"

	"github.com/jiaming2012/broker-bridge/src/models"
)

// PositionTable holds one netting position per symbol. Flat positions are removed.
type PositionTable struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
}

func copyPosition(p *models.Position) *models.Position {
	c := *p
	return &c
}

// Set stores p, or deletes its symbol when p is flat.
func (t *PositionTable) Set(p *models.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.set(p)
}

func (t *PositionTable) set(p *models.Position) {
	if p.Quantity == 0 {
		delete(t.positions, p.Symbol)
		return
	}

	t.positions[p.Symbol] = copyPosition(p)
}

func (t *PositionTable) Get(symbol string) (*models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.positions[symbol]
	if !ok {
		return nil, false
	}

	return copyPosition(p), true
}

func (t *PositionTable) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.positions, symbol)
}

// Replace swaps the whole table for a venue snapshot.
func (t *PositionTable) Replace(positions []*models.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions = make(map[string]*models.Position, len(positions))
	for _, p := range positions {
		t.set(p)
	}
}

func (t *PositionTable) All() []*models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*models.Position, 0, len(t.positions))
	for _, p := range t.positions {
		result = append(result, copyPosition(p))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

func (t *PositionTable) Values() []models.Position {
	all := t.All()
	result := make([]models.Position, len(all))
	for i, p := range all {
		result[i] = *p
	}

	return result
}

func (t *PositionTable) Clear() {
	t.Replace(nil)
}

func NewPositionTable() *PositionTable {
	return &PositionTable{
		positions: make(map[string]*models.Position),
	}
}
