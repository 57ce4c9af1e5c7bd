// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/meridianlabs/tokensniper/internal/storage/models"
)

// memoryStorage keeps records in process memory. Used by paper
// sessions and tests; nothing survives a restart.
type memoryStorage struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
	trades    []*models.Trade
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() Storage {
	return &memoryStorage{
		positions: make(map[string]*models.Position),
	}
}

func (m *memoryStorage) SavePosition(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *pos
	cp.UpdatedAt = time.Now().UTC()
	if existing, ok := m.positions[pos.AssetID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = uint(len(m.positions) + 1)
		cp.CreatedAt = cp.UpdatedAt
	}
	m.positions[pos.AssetID] = &cp
	return nil
}

func (m *memoryStorage) GetPosition(_ context.Context, assetID string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[assetID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *pos
	return &cp, nil
}

func (m *memoryStorage) ListOpenPositions(_ context.Context) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*models.Position
	for _, pos := range m.positions {
		if pos.Status == "open" || pos.Status == "closing" {
			cp := *pos
			open = append(open, &cp)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		ti, tj := open[i].EntryTime, open[j].EntryTime
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.Before(*tj)
	})
	return open, nil
}

func (m *memoryStorage) SaveTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *trade
	cp.ID = uint(len(m.trades) + 1)
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *memoryStorage) ListTrades(_ context.Context, assetID string, limit, offset int) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].AssetID == assetID {
			cp := *m.trades[i]
			matched = append(matched, &cp)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memoryStorage) RunMigrations() error { return nil }

func (m *memoryStorage) Close() error { return nil }
