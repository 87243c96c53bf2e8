package repositories

import (
	"context"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// UserRepository defines user data operations
type UserRepository interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error)
	// SetWalletAddress fails with ErrAlreadyExists when another user holds the address
	SetWalletAddress(ctx context.Context, id uuid.UUID, walletAddress string) error
}
