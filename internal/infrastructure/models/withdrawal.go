package models

import (
	"time"

	"github.com/google/uuid"
)

type Withdrawal struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	CircleID        uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index"`
	WalletAddress   string    `gorm:"type:varchar(255);not null"`
	Amount          int64     `gorm:"not null;check:amount > 0"`
	Status          string    `gorm:"type:varchar(20);not null;default:'pending';index"`
	TransactionHash *string   `gorm:"type:varchar(255)"`
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
