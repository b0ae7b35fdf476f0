package simulator

import (
	"sort"

	"github.com/jiaming2012/broker-bridge/src/models"
)

// Ledger is the account and position state of one simulated account. It is
// owned by the adapter; policies only mutate it.
type Ledger struct {
	Account      models.AccountInfo
	positions    map[string]*models.Position
	dirty        map[string]models.Position
	accountDirty bool
}

func (l *Ledger) Position(symbol string) *models.Position {
	return l.positions[symbol]
}

// SetPosition stores p, or removes its symbol when p is flat.
func (l *Ledger) SetPosition(p *models.Position) {
	if p.Quantity == 0 {
		delete(l.positions, p.Symbol)
	} else {
		l.positions[p.Symbol] = p
	}

	l.dirty[p.Symbol] = *p
}

func (l *Ledger) Positions() []models.Position {
	result := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		result = append(result, *p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

func (l *Ledger) HasPositions() bool {
	return len(l.positions) > 0
}

func (l *Ledger) Recalculate() {
	l.Account.Recalculate(l.Positions())
}

func NewLedger(account models.AccountInfo, positions []models.Position) *Ledger {
	l := &Ledger{
		Account:   account,
		positions: make(map[string]*models.Position),
		dirty:     make(map[string]models.Position),
	}

	for i := range positions {
		p := positions[i]
		if p.Quantity != 0 {
			l.positions[p.Symbol] = &p
		}
	}

	l.Account.Recalculate(l.Positions())

	return l
}
