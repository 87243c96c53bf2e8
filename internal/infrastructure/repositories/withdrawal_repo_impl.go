package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
)

// WithdrawalRepository implements withdrawal data operations
type WithdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create creates a new withdrawal
func (r *WithdrawalRepository) Create(ctx context.Context, withdrawal *entities.Withdrawal) error {
	now := time.Now()
	if withdrawal.CreatedAt.IsZero() {
		withdrawal.CreatedAt = now
	}
	withdrawal.UpdatedAt = now
	if withdrawal.Status == "" {
		withdrawal.Status = entities.WithdrawalStatusPending
	}

	m := &models.Withdrawal{
		ID:              withdrawal.ID,
		CircleID:        withdrawal.CircleID,
		UserID:          withdrawal.UserID,
		WalletAddress:   withdrawal.WalletAddress,
		Amount:          withdrawal.Amount,
		Status:          string(withdrawal.Status),
		TransactionHash: withdrawal.TransactionHash.Ptr(),
		CompletedAt:     withdrawal.CompletedAt.Ptr(),
		CreatedAt:       withdrawal.CreatedAt,
		UpdatedAt:       withdrawal.UpdatedAt,
	}

	return translateError(GetDB(ctx, r.db).Create(m).Error)
}

// GetByID gets a withdrawal by ID
func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	var m models.Withdrawal
	if err := lockedDB(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return toWithdrawalEntity(&m), nil
}

// List lists withdrawals newest first
func (r *WithdrawalRepository) List(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error) {
	query := GetDB(ctx, r.db).Model(&models.Withdrawal{}).Order("created_at DESC, id DESC")

	if filter.CircleID != nil {
		query = query.Where("circle_id = ?", *filter.CircleID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.HasHash {
		query = query.Where("transaction_hash IS NOT NULL AND transaction_hash <> ''")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var withdrawalModels []models.Withdrawal
	if err := query.Find(&withdrawalModels).Error; err != nil {
		return nil, translateError(err)
	}

	withdrawals := make([]*entities.Withdrawal, 0, len(withdrawalModels))
	for _, m := range withdrawalModels {
		model := m
		withdrawals = append(withdrawals, toWithdrawalEntity(&model))
	}
	return withdrawals, nil
}

// Finalize moves a pending withdrawal to completed or failed
func (r *WithdrawalRepository) Finalize(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, txHash string, completedAt *time.Time) error {
	if !status.IsFinal() {
		return domainerrors.ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now(),
	}
	if txHash != "" {
		updates["transaction_hash"] = txHash
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}

	db := GetDB(ctx, r.db)
	result := db.Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, string(entities.WithdrawalStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrSettled(ctx, id)
	}
	return nil
}

// AttachTxHash records the on-chain hash while the withdrawal is pending
func (r *WithdrawalRepository) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	result := GetDB(ctx, r.db).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, string(entities.WithdrawalStatusPending)).
		Updates(map[string]interface{}{
			"transaction_hash": txHash,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrSettled(ctx, id)
	}
	return nil
}

// ClearTxHash drops txHash from a pending withdrawal that still carries it
func (r *WithdrawalRepository) ClearTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	result := GetDB(ctx, r.db).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ? AND transaction_hash = ?", id, string(entities.WithdrawalStatusPending), txHash).
		Updates(map[string]interface{}{
			"transaction_hash": nil,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrSettled(ctx, id)
	}
	return nil
}

func (r *WithdrawalRepository) missingOrSettled(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := GetDB(ctx, r.db).Model(&models.Withdrawal{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return translateError(err)
	}
	if count == 0 {
		return domainerrors.ErrNotFound
	}
	return domainerrors.ErrInvalidTransition
}

func toWithdrawalEntity(m *models.Withdrawal) *entities.Withdrawal {
	return &entities.Withdrawal{
		ID:              m.ID,
		CircleID:        m.CircleID,
		UserID:          m.UserID,
		WalletAddress:   m.WalletAddress,
		Amount:          m.Amount,
		Status:          entities.WithdrawalStatus(m.Status),
		TransactionHash: null.StringFromPtr(m.TransactionHash),
		CompletedAt:     null.TimeFromPtr(m.CompletedAt),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
