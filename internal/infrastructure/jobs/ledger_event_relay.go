package jobs

import (
	"context"
	"encoding/json"
	"time"

	"circlesave.backend/internal/domain/entities"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRelayInterval   = 5 * time.Second
	defaultRelayBatchSize  = 100
	defaultRelayMaxRetries = 5
)

// EventOutbox is the pending side of the ledger event table
type EventOutbox interface {
	GetPending(ctx context.Context, limit int) ([]*entities.LedgerEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// EventPublisher delivers one serialized event
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// RelayConfig tunes the relay loop
type RelayConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

// LedgerEventRelay publishes committed ledger events, oldest first. Events
// are keyed by circle so a partition sees one circle's history in order.
type LedgerEventRelay struct {
	outbox     EventOutbox
	publisher  EventPublisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	stop       chan struct{}
}

// ledgerEventMessage is the wire form published downstream
type ledgerEventMessage struct {
	ID            uuid.UUID       `json:"id"`
	CircleID      uuid.UUID       `json:"circleId"`
	EventType     string          `json:"eventType"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	Amount        string          `json:"amount"`
	TxHash        string          `json:"txHash,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func NewLedgerEventRelay(outbox EventOutbox, publisher EventPublisher, cfg RelayConfig) *LedgerEventRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRelayInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRelayMaxRetries
	}
	return &LedgerEventRelay{
		outbox:     outbox,
		publisher:  publisher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		stop:       make(chan struct{}),
	}
}

func (j *LedgerEventRelay) Start(ctx context.Context) {
	logger.Info(ctx, "Ledger event relay started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Ledger event relay stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Ledger event relay stopped")
			return
		case <-ticker.C:
			j.relayPending(ctx)
		}
	}
}

func (j *LedgerEventRelay) Stop() {
	close(j.stop)
}

func (j *LedgerEventRelay) relayPending(ctx context.Context) {
	events, err := j.outbox.GetPending(ctx, j.batchSize)
	if err != nil {
		metrics.JobRuns.WithLabelValues("ledger_relay", metrics.Result(err)).Inc()
		logger.Error(ctx, "Failed to fetch pending ledger events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		if j.relay(ctx, event) {
			sent++
		}
	}
	metrics.JobRuns.WithLabelValues("ledger_relay", "success").Inc()
	logger.Debug(ctx, "Ledger events relayed", zap.Int("sent", sent), zap.Int("batch", len(events)))
}

func (j *LedgerEventRelay) relay(ctx context.Context, event *entities.LedgerEvent) bool {
	value, err := encodeLedgerEvent(event)
	if err == nil {
		err = j.publisher.Publish(ctx, event.CircleID.String(), value)
	}
	if err == nil {
		if err := j.outbox.MarkSent(ctx, event.ID); err != nil {
			logger.Error(ctx, "Failed to mark ledger event sent", zap.String("event_id", event.ID.String()), zap.Error(err))
		}
		return true
	}

	logger.Warn(ctx, "Ledger event publish failed",
		zap.String("event_id", event.ID.String()),
		zap.Int("retry_count", event.RetryCount),
		zap.Error(err),
	)
	if event.RetryCount+1 >= j.maxRetries {
		if err := j.outbox.MarkFailed(ctx, event.ID); err != nil {
			logger.Error(ctx, "Failed to mark ledger event failed", zap.String("event_id", event.ID.String()), zap.Error(err))
		}
		return false
	}
	if err := j.outbox.IncrementRetry(ctx, event.ID); err != nil {
		logger.Error(ctx, "Failed to bump ledger event retry", zap.String("event_id", event.ID.String()), zap.Error(err))
	}
	return false
}

func encodeLedgerEvent(event *entities.LedgerEvent) ([]byte, error) {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(ledgerEventMessage{
		ID:            event.ID,
		CircleID:      event.CircleID,
		EventType:     string(event.EventType),
		WalletAddress: event.WalletAddress,
		Amount:        entities.FormatAmount(event.Amount),
		TxHash:        event.TxHash,
		Payload:       payload,
		CreatedAt:     event.CreatedAt,
	})
}
