// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/meridianlabs/tokensniper/internal/storage/models"
)

// Storage persists positions and fills. Paper sessions use the
// in-memory implementation; live sessions use postgres.
type Storage interface {
	// Positions. SavePosition upserts by asset id.
	SavePosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, assetID string) (*models.Position, error)
	ListOpenPositions(ctx context.Context) ([]*models.Position, error)

	// Fills. Append-only.
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, assetID string, limit, offset int) ([]*models.Trade, error)

	RunMigrations() error
	Close() error
}
