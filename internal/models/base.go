package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is the base model for all entities.
type Base struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// Root is embedded by entities a deep delete starts from. The row is kept as
// a tombstone so a repeated delete resolves the same owner.
type Root struct {
	Base
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Deleted reports whether the row has been tombstoned.
func (r Root) Deleted() bool { return r.DeletedAt.Valid }
