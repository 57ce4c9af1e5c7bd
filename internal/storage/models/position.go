// internal/storage/models/position.go
package models

import "time"

// Position is the persisted state of a position. One row per asset;
// every state transition upserts the row so a restarted session can
// reconcile what was open.
type Position struct {
	BaseModel
	AssetID    string     `gorm:"unique;not null;type:varchar(64)"`
	Chain      string     `gorm:"index;not null;type:varchar(16)"`
	Symbol     string     `gorm:"type:varchar(32)"`
	Status     string     `gorm:"index;not null;type:varchar(16)"`
	EntryPrice float64    `gorm:"type:decimal(30,12)"`
	Size       float64    `gorm:"type:decimal(30,12);not null"`
	HighWater  float64    `gorm:"type:decimal(30,12)"`
	EntryTxID  string     `gorm:"type:varchar(96)"`
	EntryTime  *time.Time `gorm:"index"`
	ClosePrice float64    `gorm:"type:decimal(30,12)"`
	CloseTxID  string     `gorm:"type:varchar(96)"`
	CloseTime  *time.Time
	Reason     string  `gorm:"type:varchar(24)"`
	PnLPercent float64 `gorm:"type:decimal(12,4)"`
}
