package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/infrastructure/models"
	"circlesave.backend/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContributorRepository implements contributor balance operations
type ContributorRepository struct {
	db *gorm.DB
}

// NewContributorRepository creates a new contributor repository
func NewContributorRepository(db *gorm.DB) *ContributorRepository {
	return &ContributorRepository{db: db}
}

// Get gets the contributor row for a (circle, wallet) pair
func (r *ContributorRepository) Get(ctx context.Context, circleID uuid.UUID, walletAddress string) (*entities.Contributor, error) {
	var m models.Contributor
	err := lockedDB(ctx, r.db).
		Where("circle_id = ? AND wallet_address = ?", circleID, walletAddress).
		First(&m).Error
	if err != nil {
		return nil, translateError(err)
	}
	return toContributorEntity(&m), nil
}

// ListByCircle lists contributors of a circle, largest balance first
func (r *ContributorRepository) ListByCircle(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error) {
	var contributorModels []models.Contributor
	err := GetDB(ctx, r.db).
		Preload("User").
		Where("circle_id = ?", circleID).
		Order("balance DESC, created_at ASC").
		Find(&contributorModels).Error
	if err != nil {
		return nil, translateError(err)
	}

	contributors := make([]*entities.Contributor, 0, len(contributorModels))
	for _, m := range contributorModels {
		model := m
		contributors = append(contributors, toContributorEntity(&model))
	}
	return contributors, nil
}

// Credit inserts the contributor or adds amount to the existing balance in a
// single statement, so concurrent first deposits cannot create two rows. An
// existing row owned by another user is left untouched and reported as
// ErrWalletMismatch.
func (r *ContributorRepository) Credit(ctx context.Context, circleID, userID uuid.UUID, walletAddress string, amount int64, at time.Time) error {
	m := &models.Contributor{
		ID:                 utils.GenerateUUIDv7(),
		CircleID:           circleID,
		UserID:             userID,
		WalletAddress:      walletAddress,
		Balance:            amount,
		LastContributionAt: at,
		CreatedAt:          at,
		UpdatedAt:          at,
	}

	result := GetDB(ctx, r.db).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "circle_id"}, {Name: "wallet_address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":              gorm.Expr("circle_contributors.balance + ?", amount),
				"last_contribution_at": at,
				"updated_at":           at,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "circle_contributors.user_id = ?", Vars: []interface{}{userID}},
			}},
		}).
		Create(m)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrWalletMismatch
	}
	return nil
}

// Debit subtracts amount only while the balance stays non-negative
func (r *ContributorRepository) Debit(ctx context.Context, circleID uuid.UUID, walletAddress string, amount int64) error {
	db := GetDB(ctx, r.db)
	result := db.Model(&models.Contributor{}).
		Where("circle_id = ? AND wallet_address = ? AND balance >= ?", circleID, walletAddress, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		err := db.Model(&models.Contributor{}).
			Where("circle_id = ? AND wallet_address = ?", circleID, walletAddress).
			Count(&count).Error
		if err != nil {
			return translateError(err)
		}
		if count == 0 {
			return domainerrors.ErrNotFound
		}
		return domainerrors.ErrInsufficientFunds
	}
	return nil
}

// SumBalances returns the sum of contributor balances and the row count
func (r *ContributorRepository) SumBalances(ctx context.Context, circleID uuid.UUID) (int64, int64, error) {
	var row struct {
		Total    int64
		RowCount int64
	}
	err := GetDB(ctx, r.db).Model(&models.Contributor{}).
		Select("COALESCE(SUM(balance), 0) AS total, COUNT(*) AS row_count").
		Where("circle_id = ?", circleID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, translateError(err)
	}
	return row.Total, row.RowCount, nil
}

// SumByWallet returns the balance a wallet holds across all circles
func (r *ContributorRepository) SumByWallet(ctx context.Context, walletAddress string) (int64, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&models.Contributor{}).
		Select("COALESCE(SUM(balance), 0)").
		Where("wallet_address = ?", walletAddress).
		Scan(&total).Error
	if err != nil {
		return 0, translateError(err)
	}
	return total, nil
}

func toContributorEntity(m *models.Contributor) *entities.Contributor {
	contributor := &entities.Contributor{
		ID:                 m.ID,
		CircleID:           m.CircleID,
		UserID:             m.UserID,
		WalletAddress:      m.WalletAddress,
		Balance:            m.Balance,
		LastContributionAt: m.LastContributionAt,
		JoinedAt:           m.CreatedAt,
	}
	if m.User.ID != uuid.Nil {
		contributor.User = toUserEntity(&m.User).Summary()
	}
	return contributor
}
