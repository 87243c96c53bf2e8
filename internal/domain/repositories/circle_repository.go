package repositories

import (
	"context"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// CircleRepository defines circle and vault data operations
type CircleRepository interface {
	// Create inserts the circle together with its zero-balance vault
	Create(ctx context.Context, circle *entities.Circle, vaultCreatedAt int64) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Circle, error)
	GetByOnChainID(ctx context.Context, onChainID uint64) (*entities.Circle, error)
	List(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error)
	// AdvanceStatus moves the circle forward only; it reports whether a row changed
	AdvanceStatus(ctx context.Context, id uuid.UUID, status entities.CircleStatus) (bool, error)
	// MarkEnded moves every Active circle whose cycle ended before cutoff to Ended
	MarkEnded(ctx context.Context, cutoff int64) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// VaultRepository defines vault balance operations. Balance changes are
// relative deltas applied inside the caller's transaction.
type VaultRepository interface {
	GetByCircleID(ctx context.Context, circleID uuid.UUID) (*entities.Vault, error)
	IncrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error
	// DecrementBalance fails with ErrInsufficientFunds instead of going negative
	DecrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error
}
