package repositories

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	"circlesave.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEventRepository implements the ledger audit log and outbox
type LedgerEventRepository struct {
	db *gorm.DB
}

// NewLedgerEventRepository creates a new ledger event repository
func NewLedgerEventRepository(db *gorm.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

// Create appends a ledger event
func (r *LedgerEventRepository) Create(ctx context.Context, event *entities.LedgerEvent) error {
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = entities.LedgerEventStatusPending
	}
	if event.Payload == "" {
		event.Payload = "{}"
	}

	m := &models.LedgerEvent{
		ID:            event.ID,
		CircleID:      event.CircleID,
		EventType:     string(event.EventType),
		WalletAddress: event.WalletAddress,
		Amount:        event.Amount,
		Payload:       event.Payload,
		Status:        string(event.Status),
		RetryCount:    event.RetryCount,
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.UpdatedAt,
	}
	if event.TxHash != "" {
		hash := event.TxHash
		m.TxHash = &hash
	}

	return translateError(GetDB(ctx, r.db).Create(m).Error)
}

// ListByCircle lists the most recent events of a circle
func (r *LedgerEventRepository) ListByCircle(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error) {
	query := GetDB(ctx, r.db).Where("circle_id = ?", circleID).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

// GetPending gets events waiting to be published, oldest first
func (r *LedgerEventRepository) GetPending(ctx context.Context, limit int) ([]*entities.LedgerEvent, error) {
	query := GetDB(ctx, r.db).
		Where("status = ?", string(entities.LedgerEventStatusPending)).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

// MarkSent marks an event as published
func (r *LedgerEventRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, entities.LedgerEventStatusSent)
}

// MarkFailed marks an event as permanently undeliverable
func (r *LedgerEventRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, entities.LedgerEventStatusFailed)
}

// IncrementRetry bumps the delivery attempt counter
func (r *LedgerEventRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	err := GetDB(ctx, r.db).Model(&models.LedgerEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error
	return translateError(err)
}

func (r *LedgerEventRepository) setStatus(ctx context.Context, id uuid.UUID, status entities.LedgerEventStatus) error {
	err := GetDB(ctx, r.db).Model(&models.LedgerEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		}).Error
	return translateError(err)
}

func (r *LedgerEventRepository) find(query *gorm.DB) ([]*entities.LedgerEvent, error) {
	var eventModels []models.LedgerEvent
	if err := query.Find(&eventModels).Error; err != nil {
		return nil, translateError(err)
	}

	events := make([]*entities.LedgerEvent, 0, len(eventModels))
	for _, m := range eventModels {
		event := &entities.LedgerEvent{
			ID:            m.ID,
			CircleID:      m.CircleID,
			EventType:     entities.LedgerEventType(m.EventType),
			WalletAddress: m.WalletAddress,
			Amount:        m.Amount,
			Payload:       m.Payload,
			Status:        entities.LedgerEventStatus(m.Status),
			RetryCount:    m.RetryCount,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		}
		if m.TxHash != nil {
			event.TxHash = *m.TxHash
		}
		events = append(events, event)
	}
	return events, nil
}
