package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository implements user data operations
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	m := &models.User{
		ID:            user.ID,
		Username:      user.Username,
		Name:          user.Name,
		WalletAddress: user.WalletAddress,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	return translateError(GetDB(ctx, r.db).Create(m).Error)
}

// GetByID gets a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	var m models.User
	if err := GetDB(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return toUserEntity(&m), nil
}

// GetByWalletAddress gets the user owning a wallet address
func (r *UserRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error) {
	var m models.User
	if err := GetDB(ctx, r.db).Where("wallet_address = ?", walletAddress).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return toUserEntity(&m), nil
}

// SetWalletAddress links a wallet to the user
func (r *UserRepository) SetWalletAddress(ctx context.Context, id uuid.UUID, walletAddress string) error {
	db := GetDB(ctx, r.db)

	var holders int64
	err := db.Model(&models.User{}).
		Where("wallet_address = ? AND id <> ?", walletAddress, id).
		Count(&holders).Error
	if err != nil {
		return translateError(err)
	}
	if holders > 0 {
		return domainerrors.ErrAlreadyExists
	}

	result := db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"wallet_address": walletAddress,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func toUserEntity(m *models.User) *entities.User {
	return &entities.User{
		ID:            m.ID,
		Username:      m.Username,
		Name:          m.Name,
		WalletAddress: m.WalletAddress,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
