package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// WithdrawalStatus represents the two-phase withdrawal lifecycle.
// Pending means the amount is already reserved (debited) in the local
// ledger while the on-chain transfer is unconfirmed.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusFailed    WithdrawalStatus = "failed"
)

// IsFinal reports whether no further transition is allowed
func (s WithdrawalStatus) IsFinal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusFailed
}

// Withdrawal is a balance-decreasing event
type Withdrawal struct {
	ID              uuid.UUID        `json:"id"`
	CircleID        uuid.UUID        `json:"circleId"`
	UserID          uuid.UUID        `json:"userId"`
	WalletAddress   string           `json:"walletAddress"`
	Amount          int64            `json:"amount"`
	Status          WithdrawalStatus `json:"status"`
	TransactionHash null.String      `json:"transactionHash"`
	CompletedAt     null.Time        `json:"completedAt"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// WithdrawalInput is the engine input for debiting a contributor
type WithdrawalInput struct {
	CircleID      uuid.UUID
	UserID        uuid.UUID
	WalletAddress string
	Amount        int64
}

// WithdrawalStatusUpdate carries the on-chain confirmation data
type WithdrawalStatusUpdate struct {
	TransactionHash string
	CompletedAt     *time.Time
}

// WithdrawalFilter narrows withdrawal listings
type WithdrawalFilter struct {
	CircleID *uuid.UUID
	UserID   *uuid.UUID
	Status   *WithdrawalStatus
	HasHash  bool
	Limit    int
	Offset   int
}
