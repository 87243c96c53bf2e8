package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// WithdrawalRepository defines withdrawal data operations
type WithdrawalRepository interface {
	Create(ctx context.Context, withdrawal *entities.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error)
	List(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error)
	// Finalize moves a pending withdrawal to a final status. It returns
	// ErrInvalidTransition when the row is no longer pending.
	Finalize(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, txHash string, completedAt *time.Time) error
	// AttachTxHash records the on-chain hash of a still-pending withdrawal
	AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	// ClearTxHash removes txHash while the withdrawal is pending and still carries it
	ClearTxHash(ctx context.Context, id uuid.UUID, txHash string) error
}
