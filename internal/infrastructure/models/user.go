package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username      string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name          string    `gorm:"type:varchar(100)"`
	WalletAddress *string   `gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
