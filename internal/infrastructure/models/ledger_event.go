package models

import (
	"time"

	"github.com/google/uuid"
)

type LedgerEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CircleID      uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType     string    `gorm:"type:varchar(50);not null"`
	WalletAddress string    `gorm:"type:varchar(255)"`
	Amount        int64     `gorm:"not null;default:0"`
	TxHash        *string   `gorm:"type:varchar(255);uniqueIndex"`
	Payload       string    `gorm:"type:text;not null"`
	Status        string    `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	RetryCount    int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// All lists every model managed by AutoMigrate, parents first
func All() []interface{} {
	return []interface{}{
		&User{},
		&Circle{},
		&Vault{},
		&Contributor{},
		&Withdrawal{},
		&LedgerEvent{},
	}
}
