package models

import (
	"time"

	"github.com/google/uuid"
)

type Circle struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OnChainID  *uint64   `gorm:"column:on_chain_id;uniqueIndex"`
	Name       string    `gorm:"type:varchar(255);not null"`
	CreatorID  uuid.UUID `gorm:"type:uuid;not null;index"`
	StartCycle int64     `gorm:"not null"`
	EndCycle   int64     `gorm:"not null;index"`
	Status     int       `gorm:"not null;default:0;index"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time

	// Relations
	Creator      User          `gorm:"foreignKey:CreatorID;references:ID"`
	Vault        *Vault        `gorm:"foreignKey:CircleID;references:ID;constraint:OnDelete:CASCADE"`
	Contributors []Contributor `gorm:"foreignKey:CircleID;references:ID;constraint:OnDelete:CASCADE"`
	Withdrawals  []Withdrawal  `gorm:"foreignKey:CircleID;references:ID;constraint:OnDelete:CASCADE"`
}

type Vault struct {
	CircleID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt    int64     `gorm:"not null"`
	TotalBalance int64     `gorm:"not null;default:0;check:total_balance >= 0"`
	UpdatedAt    time.Time
}
