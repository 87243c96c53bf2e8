package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// ContributorRepository defines contributor balance operations
type ContributorRepository interface {
	Get(ctx context.Context, circleID uuid.UUID, walletAddress string) (*entities.Contributor, error)
	ListByCircle(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error)
	// Credit inserts the (circle, wallet) row or adds amount to its balance.
	// A row owned by another user yields ErrWalletMismatch.
	Credit(ctx context.Context, circleID, userID uuid.UUID, walletAddress string, amount int64, at time.Time) error
	// Debit fails with ErrInsufficientFunds instead of going negative
	Debit(ctx context.Context, circleID uuid.UUID, walletAddress string, amount int64) error
	SumBalances(ctx context.Context, circleID uuid.UUID) (sum int64, rows int64, err error)
	SumByWallet(ctx context.Context, walletAddress string) (int64, error)
}
