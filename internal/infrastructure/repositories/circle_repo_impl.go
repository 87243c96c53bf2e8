package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CircleRepository implements circle data operations
type CircleRepository struct {
	db *gorm.DB
}

// NewCircleRepository creates a new circle repository
func NewCircleRepository(db *gorm.DB) *CircleRepository {
	return &CircleRepository{db: db}
}

// Create inserts the circle and its zero-balance vault. Callers wrap it in
// a UnitOfWork so both rows commit together.
func (r *CircleRepository) Create(ctx context.Context, circle *entities.Circle, vaultCreatedAt int64) error {
	now := time.Now()
	if circle.CreatedAt.IsZero() {
		circle.CreatedAt = now
	}
	circle.UpdatedAt = now

	m := &models.Circle{
		ID:         circle.ID,
		OnChainID:  circle.OnChainID,
		Name:       circle.Name,
		CreatorID:  circle.CreatorID,
		StartCycle: circle.StartCycle,
		EndCycle:   circle.EndCycle,
		Status:     int(circle.Status),
		CreatedAt:  circle.CreatedAt,
		UpdatedAt:  circle.UpdatedAt,
	}

	db := GetDB(ctx, r.db)
	if err := db.Omit(clause.Associations).Create(m).Error; err != nil {
		return translateError(err)
	}

	vault := &models.Vault{
		CircleID:     circle.ID,
		CreatedAt:    vaultCreatedAt,
		TotalBalance: 0,
		UpdatedAt:    now,
	}
	if err := db.Create(vault).Error; err != nil {
		return translateError(err)
	}

	circle.Vault = toVaultEntity(vault)
	return nil
}

// GetByID gets a circle with creator, vault and contributor count
func (r *CircleRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Circle, error) {
	var m models.Circle
	err := lockedDB(ctx, r.db).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, translateError(err)
	}
	return r.hydrate(ctx, &m)
}

// GetByOnChainID gets a circle by its on-chain identifier
func (r *CircleRepository) GetByOnChainID(ctx context.Context, onChainID uint64) (*entities.Circle, error) {
	var m models.Circle
	if err := GetDB(ctx, r.db).Where("on_chain_id = ?", onChainID).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return r.hydrate(ctx, &m)
}

// List lists circles newest first
func (r *CircleRepository) List(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error) {
	db := GetDB(ctx, r.db)
	query := db.Model(&models.Circle{}).Preload("Creator").Preload("Vault").Order("created_at DESC")

	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.ParticipantID != nil {
		query = query.Where("id IN (?)",
			db.Model(&models.Contributor{}).Select("circle_id").Where("user_id = ?", *filter.ParticipantID))
	}
	if filter.Status != nil {
		query = query.Where("status = ?", int(*filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var circleModels []models.Circle
	if err := query.Find(&circleModels).Error; err != nil {
		return nil, translateError(err)
	}
	if len(circleModels) == 0 {
		return []*entities.Circle{}, nil
	}

	ids := make([]uuid.UUID, 0, len(circleModels))
	for _, m := range circleModels {
		ids = append(ids, m.ID)
	}
	counts, err := r.contributorCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	circles := make([]*entities.Circle, 0, len(circleModels))
	for _, m := range circleModels {
		model := m
		circle := toCircleEntity(&model)
		circle.ContributorCount = counts[model.ID]
		circles = append(circles, circle)
	}
	return circles, nil
}

// AdvanceStatus moves the circle to status if that is a forward transition
func (r *CircleRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, status entities.CircleStatus) (bool, error) {
	result := GetDB(ctx, r.db).Model(&models.Circle{}).
		Where("id = ? AND status < ?", id, int(status)).
		Updates(map[string]interface{}{
			"status":     int(status),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkEnded flips Active circles whose end cycle is at or before cutoff
func (r *CircleRepository) MarkEnded(ctx context.Context, cutoff int64) (int64, error) {
	result := GetDB(ctx, r.db).Model(&models.Circle{}).
		Where("status = ? AND end_cycle <= ?", int(entities.CircleStatusActive), cutoff).
		Updates(map[string]interface{}{
			"status":     int(entities.CircleStatusEnded),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a circle and its dependents (administrative cleanup)
func (r *CircleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	for _, dependent := range []interface{}{&models.LedgerEvent{}, &models.Withdrawal{}, &models.Contributor{}, &models.Vault{}} {
		if err := db.Where("circle_id = ?", id).Delete(dependent).Error; err != nil {
			return translateError(err)
		}
	}
	result := db.Delete(&models.Circle{}, "id = ?", id)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *CircleRepository) hydrate(ctx context.Context, m *models.Circle) (*entities.Circle, error) {
	db := GetDB(ctx, r.db)

	var creator models.User
	if err := db.Where("id = ?", m.CreatorID).First(&creator).Error; err == nil {
		m.Creator = creator
	}

	var vault models.Vault
	if err := db.Where("circle_id = ?", m.ID).First(&vault).Error; err == nil {
		m.Vault = &vault
	}

	counts, err := r.contributorCounts(ctx, []uuid.UUID{m.ID})
	if err != nil {
		return nil, err
	}

	circle := toCircleEntity(m)
	circle.ContributorCount = counts[m.ID]
	return circle, nil
}

func (r *CircleRepository) contributorCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	var rows []struct {
		CircleID uuid.UUID
		Total    int64
	}
	err := GetDB(ctx, r.db).Model(&models.Contributor{}).
		Select("circle_id, COUNT(*) AS total").
		Where("circle_id IN ?", ids).
		Group("circle_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}

	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		counts[row.CircleID] = row.Total
	}
	return counts, nil
}

func toCircleEntity(m *models.Circle) *entities.Circle {
	circle := &entities.Circle{
		ID:         m.ID,
		OnChainID:  m.OnChainID,
		Name:       m.Name,
		CreatorID:  m.CreatorID,
		StartCycle: m.StartCycle,
		EndCycle:   m.EndCycle,
		Status:     entities.CircleStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.Creator.ID != uuid.Nil {
		circle.Creator = toUserEntity(&m.Creator).Summary()
	}
	if m.Vault != nil {
		circle.Vault = toVaultEntity(m.Vault)
	}
	return circle
}

// VaultRepository implements vault balance operations
type VaultRepository struct {
	db *gorm.DB
}

// NewVaultRepository creates a new vault repository
func NewVaultRepository(db *gorm.DB) *VaultRepository {
	return &VaultRepository{db: db}
}

// GetByCircleID gets the vault of a circle
func (r *VaultRepository) GetByCircleID(ctx context.Context, circleID uuid.UUID) (*entities.Vault, error) {
	var m models.Vault
	if err := lockedDB(ctx, r.db).Where("circle_id = ?", circleID).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return toVaultEntity(&m), nil
}

// IncrementBalance adds amount to the vault total as a relative delta
func (r *VaultRepository) IncrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error {
	result := GetDB(ctx, r.db).Model(&models.Vault{}).
		Where("circle_id = ?", circleID).
		Updates(map[string]interface{}{
			"total_balance": gorm.Expr("total_balance + ?", amount),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// DecrementBalance subtracts amount only while the total stays non-negative
func (r *VaultRepository) DecrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error {
	db := GetDB(ctx, r.db)
	result := db.Model(&models.Vault{}).
		Where("circle_id = ? AND total_balance >= ?", circleID, amount).
		Updates(map[string]interface{}{
			"total_balance": gorm.Expr("total_balance - ?", amount),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.Vault{}).Where("circle_id = ?", circleID).Count(&count).Error; err != nil {
			return translateError(err)
		}
		if count == 0 {
			return domainerrors.ErrNotFound
		}
		return domainerrors.ErrInsufficientFunds
	}
	return nil
}

func toVaultEntity(m *models.Vault) *entities.Vault {
	return &entities.Vault{
		CircleID:     m.CircleID,
		CreatedAt:    m.CreatedAt,
		TotalBalance: m.TotalBalance,
		UpdatedAt:    m.UpdatedAt,
	}
}
