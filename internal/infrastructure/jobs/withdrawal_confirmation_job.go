package jobs

import (
	"context"
	"errors"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/domain/repositories"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultConfirmationInterval = 15 * time.Second
	confirmationBatchSize       = 50
)

// WithdrawalSettler lists pending payouts and settles them
type WithdrawalSettler interface {
	ListWithdrawals(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, update entities.WithdrawalStatusUpdate) (*entities.Withdrawal, error)
	DetachWithdrawalTxHash(ctx context.Context, id uuid.UUID, txHash string, reason string) error
	GetCircle(ctx context.Context, id uuid.UUID) (*entities.Circle, error)
	GetUserBalanceInCircle(ctx context.Context, circleID uuid.UUID, walletAddress string) (int64, error)
}

// WithdrawalConfirmationJob settles pending withdrawals that carry a
// payout hash once the chain proves the hash is their payout. Hashes the
// chain does not bind to the withdrawal are detached.
type WithdrawalConfirmationJob struct {
	ledger   WithdrawalSettler
	verifier repositories.PayoutVerifier
	interval time.Duration
	stop     chan struct{}
}

func NewWithdrawalConfirmationJob(ledger WithdrawalSettler, verifier repositories.PayoutVerifier, interval time.Duration) *WithdrawalConfirmationJob {
	if interval <= 0 {
		interval = defaultConfirmationInterval
	}
	return &WithdrawalConfirmationJob{
		ledger:   ledger,
		verifier: verifier,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (j *WithdrawalConfirmationJob) Start(ctx context.Context) {
	logger.Info(ctx, "Withdrawal confirmation job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Withdrawal confirmation job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Withdrawal confirmation job stopped")
			return
		case <-ticker.C:
			j.confirmPending(ctx)
		}
	}
}

func (j *WithdrawalConfirmationJob) Stop() {
	close(j.stop)
}

func (j *WithdrawalConfirmationJob) confirmPending(ctx context.Context) {
	pending := entities.WithdrawalStatusPending
	withdrawals, err := j.ledger.ListWithdrawals(ctx, entities.WithdrawalFilter{
		Status:  &pending,
		HasHash: true,
		Limit:   confirmationBatchSize,
	})
	metrics.JobRuns.WithLabelValues("withdrawal_confirmation", metrics.Result(err)).Inc()
	if err != nil {
		logger.Error(ctx, "Failed to list pending withdrawals", zap.Error(err))
		return
	}

	for _, w := range withdrawals {
		if ctx.Err() != nil {
			return
		}
		j.settle(ctx, w)
	}
}

func (j *WithdrawalConfirmationJob) settle(ctx context.Context, w *entities.Withdrawal) {
	hash := w.TransactionHash.String
	fields := []zap.Field{zap.String("withdrawal_id", w.ID.String()), zap.String("tx_hash", hash)}

	claim, err := j.claimFor(ctx, w)
	if err != nil {
		logger.Warn(ctx, "Cannot build payout claim", append(fields, zap.Error(err))...)
		return
	}
	outcome, err := j.verifier.VerifyPayout(ctx, claim)
	if err != nil {
		logger.Warn(ctx, "Payout verification failed", append(fields, zap.Error(err))...)
		return
	}

	var status entities.WithdrawalStatus
	switch outcome {
	case entities.PayoutConfirmed:
		status = entities.WithdrawalStatusCompleted
	case entities.PayoutReverted:
		status = entities.WithdrawalStatusFailed
	case entities.PayoutRejected:
		err := j.ledger.DetachWithdrawalTxHash(ctx, w.ID, hash, "transaction is not the payout of this withdrawal")
		if err != nil && !errors.Is(err, domainerrors.ErrInvalidTransition) {
			logger.Error(ctx, "Failed to detach payout hash", append(fields, zap.Error(err))...)
			return
		}
		logger.Warn(ctx, "Payout hash detached", fields...)
		return
	default:
		return
	}

	_, err = j.ledger.UpdateWithdrawalStatus(ctx, w.ID, status, entities.WithdrawalStatusUpdate{TransactionHash: hash})
	if err != nil {
		// settled concurrently
		if errors.Is(err, domainerrors.ErrInvalidTransition) {
			return
		}
		logger.Error(ctx, "Failed to settle withdrawal", append(fields, zap.String("status", string(status)), zap.Error(err))...)
		return
	}
	logger.Info(ctx, "Withdrawal settled from receipt", append(fields, zap.String("status", string(status)))...)
}

func (j *WithdrawalConfirmationJob) claimFor(ctx context.Context, w *entities.Withdrawal) (entities.PayoutClaim, error) {
	circle, err := j.ledger.GetCircle(ctx, w.CircleID)
	if err != nil {
		return entities.PayoutClaim{}, err
	}
	if circle.OnChainID == nil {
		return entities.PayoutClaim{}, errors.New("circle has no on-chain id")
	}
	balance, err := j.ledger.GetUserBalanceInCircle(ctx, w.CircleID, w.WalletAddress)
	if err != nil {
		return entities.PayoutClaim{}, err
	}
	return entities.NewPayoutClaim(w, *circle.OnChainID, balance), nil
}
