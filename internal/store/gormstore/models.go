package gormstore

import (
	"time"
)

// StateEntry mirrors the world_state table: one row per world-state key.
type StateEntry struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (StateEntry) TableName() string { return "world_state" }
