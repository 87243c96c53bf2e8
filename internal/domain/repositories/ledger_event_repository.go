package repositories

import (
	"context"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// LedgerEventRepository defines the ledger audit/outbox operations
type LedgerEventRepository interface {
	// Create fails with ErrAlreadyExists when the tx hash was already recorded
	Create(ctx context.Context, event *entities.LedgerEvent) error
	ListByCircle(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error)
	GetPending(ctx context.Context, limit int) ([]*entities.LedgerEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}
