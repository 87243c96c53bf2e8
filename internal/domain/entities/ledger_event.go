package entities

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEventType names a committed ledger mutation
type LedgerEventType string

const (
	LedgerEventCircleCreated       LedgerEventType = "CIRCLE_CREATED"
	LedgerEventDepositRecorded     LedgerEventType = "DEPOSIT_RECORDED"
	LedgerEventWithdrawalProcessed LedgerEventType = "WITHDRAWAL_PROCESSED"
	LedgerEventWithdrawalCompleted LedgerEventType = "WITHDRAWAL_COMPLETED"
	LedgerEventWithdrawalFailed    LedgerEventType = "WITHDRAWAL_FAILED"
	// payout hash detached because the transaction is not this withdrawal's payout
	LedgerEventWithdrawalHashRejected LedgerEventType = "WITHDRAWAL_HASH_REJECTED"
)

// LedgerEventStatus tracks outbox delivery
type LedgerEventStatus string

const (
	LedgerEventStatusPending LedgerEventStatus = "PENDING"
	LedgerEventStatusSent    LedgerEventStatus = "SENT"
	LedgerEventStatusFailed  LedgerEventStatus = "FAILED"
)

// LedgerEvent is the append-only record written alongside every engine
// mutation. It doubles as the outbox for downstream publishing.
type LedgerEvent struct {
	ID            uuid.UUID         `json:"id"`
	CircleID      uuid.UUID         `json:"circleId"`
	EventType     LedgerEventType   `json:"eventType"`
	WalletAddress string            `json:"walletAddress,omitempty"`
	Amount        int64             `json:"amount"`
	TxHash        string            `json:"txHash,omitempty"`
	Payload       string            `json:"payload"`
	Status        LedgerEventStatus `json:"status"`
	RetryCount    int               `json:"retryCount"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
