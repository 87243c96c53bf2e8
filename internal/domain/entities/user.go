package entities

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated account holder
type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Summary returns the public projection of the user
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:            u.ID,
		Username:      u.Username,
		Name:          u.Name,
		WalletAddress: u.WalletAddress,
	}
}

// UserSummary is the creator/member projection joined onto circles
type UserSummary struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
}

// LinkWalletInput represents input for linking a wallet to an account
type LinkWalletInput struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}
