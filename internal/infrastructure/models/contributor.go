package models

import (
	"time"

	"github.com/google/uuid"
)

type Contributor struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	CircleID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_circle_wallet"`
	UserID             uuid.UUID `gorm:"type:uuid;not null;index"`
	WalletAddress      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_circle_wallet"`
	Balance            int64     `gorm:"not null;default:0;check:balance >= 0"`
	LastContributionAt time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	User User `gorm:"foreignKey:UserID;references:ID"`
}

func (Contributor) TableName() string {
	return "circle_contributors"
}
