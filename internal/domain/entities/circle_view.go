package entities

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CreateCircleRequest syncs a circle the caller already created on chain
type CreateCircleRequest struct {
	OnChainID       uint64 `json:"onChainId,string" binding:"required"`
	Name            string `json:"name" binding:"required"`
	DurationDays    int    `json:"durationDays" binding:"required,gt=0"`
	TransactionHash string `json:"transactionHash"`
}

// JoinCircleRequest syncs a deposit the caller already made on chain
type JoinCircleRequest struct {
	WalletAddress   string `json:"walletAddress" binding:"required"`
	Amount          int64  `json:"amount,string" binding:"required"`
	TransactionHash string `json:"transactionHash"`
}

// WithdrawRequest reserves a payout the caller is withdrawing on chain
type WithdrawRequest struct {
	WalletAddress   string `json:"walletAddress" binding:"required"`
	Amount          int64  `json:"amount,string" binding:"required"`
	TransactionHash string `json:"transactionHash"`
}

// ConfirmWithdrawalRequest attaches the payout hash or reports a failed payout
type ConfirmWithdrawalRequest struct {
	Status          WithdrawalStatus `json:"status"`
	TransactionHash string           `json:"transactionHash"`
}

// CreatorView is the creator projection; the wallet is shown to the creator only
type CreatorView struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
}

// CircleView is the caller-scoped circle listing entry
type CircleView struct {
	ID               uuid.UUID    `json:"id"`
	OnChainID        string       `json:"onChainId,omitempty"`
	Name             string       `json:"name"`
	Creator          CreatorView  `json:"creator"`
	StartCycle       string       `json:"startCycle"`
	EndCycle         string       `json:"endCycle"`
	Status           CircleStatus `json:"status"`
	TotalBalance     string       `json:"totalBalance"`
	ContributorCount int64        `json:"contributorCount"`
	IsCreator        bool         `json:"isCreator"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// ContributorView masks balance and wallet unless it is the caller's row
type ContributorView struct {
	ID                 uuid.UUID `json:"id"`
	Username           string    `json:"username"`
	Name               string    `json:"name"`
	WalletAddress      *string   `json:"walletAddress,omitempty"`
	Balance            *string   `json:"balance,omitempty"`
	LastContributionAt time.Time `json:"lastContributionAt"`
	JoinedAt           time.Time `json:"joinedAt"`
}

// CircleDetail is the circle page: members plus the caller's own balances
type CircleDetail struct {
	CircleView
	Contributors  []ContributorView `json:"contributors"`
	UserBalance   string            `json:"userBalance"`
	LedgerBalance string            `json:"ledgerBalance"`
}

// DepositView is the caller's side of a committed deposit
type DepositView struct {
	Balance            string    `json:"balance"`
	LastContributionAt time.Time `json:"lastContributionAt"`
	VaultBalance       string    `json:"vaultBalance"`
}

// WithdrawalView is a withdrawal with string-encoded amount
type WithdrawalView struct {
	ID              uuid.UUID        `json:"id"`
	CircleID        uuid.UUID        `json:"circleId"`
	Amount          string           `json:"amount"`
	Status          WithdrawalStatus `json:"status"`
	TransactionHash *string          `json:"transactionHash"`
	CompletedAt     *time.Time       `json:"completedAt"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NewWithdrawalView projects a withdrawal for its owner
func NewWithdrawalView(w *Withdrawal) *WithdrawalView {
	return &WithdrawalView{
		ID:              w.ID,
		CircleID:        w.CircleID,
		Amount:          FormatAmount(w.Amount),
		Status:          w.Status,
		TransactionHash: w.TransactionHash.Ptr(),
		CompletedAt:     w.CompletedAt.Ptr(),
		CreatedAt:       w.CreatedAt,
	}
}

// ActivityView is one of the caller's own ledger events
type ActivityView struct {
	EventType LedgerEventType `json:"eventType"`
	Amount    string          `json:"amount"`
	TxHash    string          `json:"txHash,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FormatAmount string-encodes smallest-unit amounts for the wire
func FormatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}
