// internal/storage/models/trade.go
package models

import "time"

// Trade records one executed fill, entry or exit. Append-only.
type Trade struct {
	BaseModel
	TxID     string     `gorm:"unique;not null;type:varchar(96)"`
	AssetID  string     `gorm:"index;not null;type:varchar(64)"`
	Chain    string     `gorm:"not null;type:varchar(16)"`
	Side     string     `gorm:"not null;type:varchar(8)"` // buy or sell
	Price    float64    `gorm:"type:decimal(30,12);not null"`
	Size     float64    `gorm:"type:decimal(30,12);not null"`
	FillTime *time.Time `gorm:"index"`
}
