package entities

import (
	"time"

	"github.com/google/uuid"
)

// Contributor is a user's balance record within one circle, keyed by wallet
type Contributor struct {
	ID                 uuid.UUID `json:"id"`
	CircleID           uuid.UUID `json:"circleId"`
	UserID             uuid.UUID `json:"userId"`
	WalletAddress      string    `json:"walletAddress"`
	Balance            int64     `json:"balance"`
	LastContributionAt time.Time `json:"lastContributionAt"`
	JoinedAt           time.Time `json:"joinedAt"`

	User *UserSummary `json:"user,omitempty"`
}

// DepositInput is the engine input for reconciling one on-chain deposit
type DepositInput struct {
	CircleID        uuid.UUID
	UserID          uuid.UUID
	WalletAddress   string
	Amount          int64
	TransactionHash string
}

// DepositResult carries both sides of a committed deposit
type DepositResult struct {
	Contributor *Contributor `json:"contributor"`
	Vault       *Vault       `json:"vault"`
}
