package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"circlesave.backend/internal/config"
	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/domain/repositories"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"circlesave.backend/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLedgerOpTimeout = 5 * time.Second

// LedgerOptions tunes the reconciliation engine
type LedgerOptions struct {
	OpTimeout     time.Duration
	ClosurePolicy string
	Clock         func() time.Time
}

// LedgerUsecase is the reconciliation engine. Every mutation runs in one
// transaction that takes row locks in the order circle, vault, contributor
// and appends a ledger event, so the vault total always equals the sum of
// contributor balances after commit.
type LedgerUsecase struct {
	uow             repositories.UnitOfWork
	circleRepo      repositories.CircleRepository
	vaultRepo       repositories.VaultRepository
	contributorRepo repositories.ContributorRepository
	withdrawalRepo  repositories.WithdrawalRepository
	eventRepo       repositories.LedgerEventRepository
	opTimeout       time.Duration
	closurePolicy   string
	now             func() time.Time
}

// NewLedgerUsecase creates a new reconciliation engine
func NewLedgerUsecase(
	uow repositories.UnitOfWork,
	circleRepo repositories.CircleRepository,
	vaultRepo repositories.VaultRepository,
	contributorRepo repositories.ContributorRepository,
	withdrawalRepo repositories.WithdrawalRepository,
	eventRepo repositories.LedgerEventRepository,
	opts LedgerOptions,
) *LedgerUsecase {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultLedgerOpTimeout
	}
	if opts.ClosurePolicy != config.ClosurePolicyDrained {
		opts.ClosurePolicy = config.ClosurePolicyFirstWithdrawal
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &LedgerUsecase{
		uow:             uow,
		circleRepo:      circleRepo,
		vaultRepo:       vaultRepo,
		contributorRepo: contributorRepo,
		withdrawalRepo:  withdrawalRepo,
		eventRepo:       eventRepo,
		opTimeout:       opts.OpTimeout,
		closurePolicy:   opts.ClosurePolicy,
		now:             opts.Clock,
	}
}

// CreateCircle registers a circle already confirmed on chain, together
// with its empty vault.
func (u *LedgerUsecase) CreateCircle(ctx context.Context, input *entities.CreateCircleInput) (*entities.Circle, error) {
	if input == nil {
		return nil, domainerrors.Invalid("circle input is required")
	}
	name := strings.TrimSpace(input.Name)
	switch {
	case input.OnChainID == 0:
		return nil, domainerrors.Invalid("onChainId must be positive")
	case name == "":
		return nil, domainerrors.Invalid("name is required")
	case input.CreatorID == uuid.Nil:
		return nil, domainerrors.Invalid("creator is required")
	case input.StartCycle < 0 || input.EndCycle < input.StartCycle:
		return nil, domainerrors.Invalid("endCycle must not precede startCycle")
	}

	onChainID := input.OnChainID
	circle := &entities.Circle{
		ID:         utils.GenerateUUIDv7(),
		OnChainID:  &onChainID,
		Name:       name,
		CreatorID:  input.CreatorID,
		StartCycle: input.StartCycle,
		EndCycle:   input.EndCycle,
		Status:     entities.CircleStatusActive,
		CreatedAt:  u.now(),
	}

	var created *entities.Circle
	err := u.run(ctx, "create_circle", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			if err := u.circleRepo.Create(txCtx, circle, input.VaultCreatedAt); err != nil {
				if errors.Is(err, domainerrors.ErrAlreadyExists) {
					return fmt.Errorf("circle with on-chain id %d: %w", input.OnChainID, err)
				}
				return err
			}
			if err := u.appendEvent(txCtx, circle.ID, entities.LedgerEventCircleCreated, "", 0, "", map[string]interface{}{
				"onChainId":       input.OnChainID,
				"creatorId":       input.CreatorID,
				"startCycle":      input.StartCycle,
				"endCycle":        input.EndCycle,
				"transactionHash": input.TransactionHash,
			}); err != nil {
				return err
			}

			var err error
			created, err = u.circleRepo.GetByID(txCtx, circle.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Circle created",
		zap.String("circle_id", created.ID.String()),
		zap.Uint64("on_chain_id", input.OnChainID),
	)
	return created, nil
}

// RecordDeposit credits a confirmed on-chain deposit to the vault and the
// contributor in one transaction. When a transaction hash is given, a
// replay of the same hash is rejected and nothing is credited twice.
func (u *LedgerUsecase) RecordDeposit(ctx context.Context, input *entities.DepositInput) (*entities.DepositResult, error) {
	if input == nil {
		return nil, domainerrors.Invalid("deposit input is required")
	}
	switch {
	case input.Amount <= 0:
		return nil, domainerrors.Invalid("amount must be positive")
	case input.CircleID == uuid.Nil || input.UserID == uuid.Nil:
		return nil, domainerrors.Invalid("circle and user are required")
	case strings.TrimSpace(input.WalletAddress) == "":
		return nil, domainerrors.Invalid("walletAddress is required")
	}
	txHash, err := normalizeOptionalTxHash(input.TransactionHash)
	if err != nil {
		return nil, err
	}

	var result *entities.DepositResult
	err = u.run(ctx, "record_deposit", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			lockCtx := u.uow.WithLock(txCtx)

			if _, err := u.vaultRepo.GetByCircleID(lockCtx, input.CircleID); err != nil {
				if errors.Is(err, domainerrors.ErrNotFound) {
					return fmt.Errorf("circle vault: %w", err)
				}
				return err
			}

			existing, err := u.contributorRepo.Get(lockCtx, input.CircleID, input.WalletAddress)
			switch {
			case err == nil:
				if existing.UserID != input.UserID {
					return domainerrors.ErrWalletMismatch
				}
			case !errors.Is(err, domainerrors.ErrNotFound):
				return err
			}

			if err := u.appendEvent(txCtx, input.CircleID, entities.LedgerEventDepositRecorded,
				input.WalletAddress, input.Amount, txHash, map[string]interface{}{
					"userId": input.UserID,
				}); err != nil {
				if errors.Is(err, domainerrors.ErrAlreadyExists) {
					return fmt.Errorf("deposit %s already recorded: %w", txHash, err)
				}
				return err
			}

			if err := u.vaultRepo.IncrementBalance(txCtx, input.CircleID, input.Amount); err != nil {
				return err
			}
			if err := u.contributorRepo.Credit(txCtx, input.CircleID, input.UserID, input.WalletAddress, input.Amount, u.now()); err != nil {
				return err
			}

			contributor, err := u.contributorRepo.Get(txCtx, input.CircleID, input.WalletAddress)
			if err != nil {
				return err
			}
			vault, err := u.vaultRepo.GetByCircleID(txCtx, input.CircleID)
			if err != nil {
				return err
			}
			result = &entities.DepositResult{Contributor: contributor, Vault: vault}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerAmount.WithLabelValues("credit").Add(float64(input.Amount))
	logger.Info(ctx, "Deposit recorded",
		zap.String("circle_id", input.CircleID.String()),
		zap.String("wallet_address", input.WalletAddress),
		zap.Int64("amount", input.Amount),
		zap.Int64("vault_balance", result.Vault.TotalBalance),
	)
	return result, nil
}

// ProcessWithdrawal reserves amount for an on-chain payout: it creates a
// pending withdrawal and debits the vault and the contributor. All checks
// run under row locks before any write.
func (u *LedgerUsecase) ProcessWithdrawal(ctx context.Context, input *entities.WithdrawalInput) (*entities.Withdrawal, error) {
	if input == nil {
		return nil, domainerrors.Invalid("withdrawal input is required")
	}
	switch {
	case input.Amount <= 0:
		return nil, domainerrors.Invalid("amount must be positive")
	case input.CircleID == uuid.Nil || input.UserID == uuid.Nil:
		return nil, domainerrors.Invalid("circle and user are required")
	case strings.TrimSpace(input.WalletAddress) == "":
		return nil, domainerrors.Invalid("walletAddress is required")
	}

	withdrawal := &entities.Withdrawal{
		ID:            utils.GenerateUUIDv7(),
		CircleID:      input.CircleID,
		UserID:        input.UserID,
		WalletAddress: input.WalletAddress,
		Amount:        input.Amount,
		Status:        entities.WithdrawalStatusPending,
	}

	var newStatus entities.CircleStatus
	err := u.run(ctx, "process_withdrawal", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			lockCtx := u.uow.WithLock(txCtx)
			now := u.now()

			circle, err := u.circleRepo.GetByID(lockCtx, input.CircleID)
			if err != nil {
				return err
			}
			if !circle.HasEnded(now) {
				return domainerrors.ErrCycleNotEnded
			}

			vault, err := u.vaultRepo.GetByCircleID(lockCtx, input.CircleID)
			if err != nil {
				return err
			}

			contributor, err := u.contributorRepo.Get(lockCtx, input.CircleID, input.WalletAddress)
			if err != nil {
				if errors.Is(err, domainerrors.ErrNotFound) {
					return fmt.Errorf("wallet is not a contributor of this circle: %w", err)
				}
				return err
			}
			if contributor.UserID != input.UserID {
				return domainerrors.ErrWalletMismatch
			}
			if contributor.Balance < input.Amount {
				return domainerrors.ErrInsufficientFunds
			}

			withdrawal.CreatedAt = now
			if err := u.withdrawalRepo.Create(txCtx, withdrawal); err != nil {
				return err
			}
			if err := u.vaultRepo.DecrementBalance(txCtx, input.CircleID, input.Amount); err != nil {
				return err
			}
			if err := u.contributorRepo.Debit(txCtx, input.CircleID, input.WalletAddress, input.Amount); err != nil {
				return err
			}

			newStatus = u.statusAfterWithdrawal(circle.Status, vault.TotalBalance-input.Amount)
			if newStatus > circle.Status {
				if _, err := u.circleRepo.AdvanceStatus(txCtx, circle.ID, newStatus); err != nil {
					return err
				}
			}

			return u.appendEvent(txCtx, input.CircleID, entities.LedgerEventWithdrawalProcessed,
				input.WalletAddress, input.Amount, "", map[string]interface{}{
					"withdrawalId": withdrawal.ID,
					"userId":       input.UserID,
					"circleStatus": newStatus.String(),
				})
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerAmount.WithLabelValues("debit").Add(float64(input.Amount))
	logger.Info(ctx, "Withdrawal processed",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.String("circle_id", input.CircleID.String()),
		zap.Int64("amount", input.Amount),
		zap.String("circle_status", newStatus.String()),
	)
	return withdrawal, nil
}

// statusAfterWithdrawal applies the closure policy. Status never moves back.
func (u *LedgerUsecase) statusAfterWithdrawal(current entities.CircleStatus, remaining int64) entities.CircleStatus {
	next := entities.CircleStatusClosed
	if u.closurePolicy == config.ClosurePolicyDrained && remaining > 0 {
		next = entities.CircleStatusEnded
	}
	if next < current {
		return current
	}
	return next
}

// UpdateWithdrawalStatus settles a pending withdrawal. A failed payout
// returns the reserved amount to the contributor and the vault.
func (u *LedgerUsecase) UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, update entities.WithdrawalStatusUpdate) (*entities.Withdrawal, error) {
	if !status.IsFinal() {
		return nil, domainerrors.Invalid("status must be completed or failed")
	}
	txHash, err := normalizeOptionalTxHash(update.TransactionHash)
	if err != nil {
		return nil, err
	}
	update.TransactionHash = txHash

	var settled *entities.Withdrawal
	err = u.run(ctx, "update_withdrawal_status", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			lockCtx := u.uow.WithLock(txCtx)

			withdrawal, err := u.withdrawalRepo.GetByID(lockCtx, id)
			if err != nil {
				return err
			}
			if withdrawal.Status != entities.WithdrawalStatusPending {
				return fmt.Errorf("withdrawal is already %s: %w", withdrawal.Status, domainerrors.ErrInvalidTransition)
			}

			var completedAt *time.Time
			if status == entities.WithdrawalStatusCompleted {
				at := u.now()
				if update.CompletedAt != nil {
					at = *update.CompletedAt
				}
				completedAt = &at
			}
			if err := u.withdrawalRepo.Finalize(txCtx, id, status, update.TransactionHash, completedAt); err != nil {
				return err
			}

			eventType := entities.LedgerEventWithdrawalCompleted
			if status == entities.WithdrawalStatusFailed {
				eventType = entities.LedgerEventWithdrawalFailed
				if err := u.releaseReservation(lockCtx, withdrawal); err != nil {
					return err
				}
			}

			if err := u.appendEvent(txCtx, withdrawal.CircleID, eventType, withdrawal.WalletAddress, withdrawal.Amount, "",
				map[string]interface{}{
					"withdrawalId":    withdrawal.ID,
					"transactionHash": update.TransactionHash,
				}); err != nil {
				return err
			}

			settled, err = u.withdrawalRepo.GetByID(txCtx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Withdrawal settled",
		zap.String("withdrawal_id", id.String()),
		zap.String("status", string(status)),
	)
	return settled, nil
}

// AttachWithdrawalTxHash records the payout hash on a pending withdrawal so
// the confirmation job can settle it from the receipt.
func (u *LedgerUsecase) AttachWithdrawalTxHash(ctx context.Context, id uuid.UUID, txHash string) (*entities.Withdrawal, error) {
	if strings.TrimSpace(txHash) == "" {
		return nil, domainerrors.Invalid("transactionHash is required")
	}
	txHash, ok := utils.NormalizeTxHash(txHash)
	if !ok {
		return nil, domainerrors.Invalid("transactionHash is not a valid transaction hash")
	}

	var withdrawal *entities.Withdrawal
	err := u.run(ctx, "attach_withdrawal_hash", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			if err := u.withdrawalRepo.AttachTxHash(txCtx, id, txHash); err != nil {
				return err
			}
			var err error
			withdrawal, err = u.withdrawalRepo.GetByID(txCtx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return withdrawal, nil
}

// DetachWithdrawalTxHash removes a payout hash that turned out not to
// belong to the withdrawal, so the owner can attach the right one. It fails
// with ErrInvalidTransition once the hash changed or the withdrawal settled.
func (u *LedgerUsecase) DetachWithdrawalTxHash(ctx context.Context, id uuid.UUID, txHash string, reason string) error {
	return u.run(ctx, "detach_withdrawal_hash", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			withdrawal, err := u.withdrawalRepo.GetByID(u.uow.WithLock(txCtx), id)
			if err != nil {
				return err
			}
			if err := u.withdrawalRepo.ClearTxHash(txCtx, id, txHash); err != nil {
				return err
			}
			return u.appendEvent(txCtx, withdrawal.CircleID, entities.LedgerEventWithdrawalHashRejected,
				withdrawal.WalletAddress, 0, "", map[string]interface{}{
					"withdrawalId":    withdrawal.ID,
					"transactionHash": txHash,
					"reason":          reason,
				})
		})
	})
}

// DeleteCircle removes a circle with its vault, contributors, withdrawals
// and ledger events. Administrative cleanup only.
func (u *LedgerUsecase) DeleteCircle(ctx context.Context, id uuid.UUID) error {
	var vaultBalance int64
	err := u.run(ctx, "delete_circle", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			lockCtx := u.uow.WithLock(txCtx)
			if _, err := u.circleRepo.GetByID(lockCtx, id); err != nil {
				return err
			}
			vault, err := u.vaultRepo.GetByCircleID(lockCtx, id)
			if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
				return err
			}
			if vault != nil {
				vaultBalance = vault.TotalBalance
			}
			return u.circleRepo.Delete(txCtx, id)
		})
	})
	if err != nil {
		return err
	}
	logger.Warn(ctx, "Circle deleted",
		zap.String("circle_id", id.String()),
		zap.Int64("vault_balance", vaultBalance),
	)
	return nil
}

func (u *LedgerUsecase) releaseReservation(lockCtx context.Context, withdrawal *entities.Withdrawal) error {
	// keep the circle, vault, contributor lock order of ProcessWithdrawal
	if _, err := u.circleRepo.GetByID(lockCtx, withdrawal.CircleID); err != nil {
		return err
	}
	if err := u.vaultRepo.IncrementBalance(lockCtx, withdrawal.CircleID, withdrawal.Amount); err != nil {
		return err
	}
	if err := u.contributorRepo.Credit(lockCtx, withdrawal.CircleID, withdrawal.UserID, withdrawal.WalletAddress, withdrawal.Amount, u.now()); err != nil {
		return err
	}
	metrics.LedgerAmount.WithLabelValues("release").Add(float64(withdrawal.Amount))
	return nil
}

// GetUserBalanceInCircle returns the ledger balance of a wallet, zero when
// it never contributed.
func (u *LedgerUsecase) GetUserBalanceInCircle(ctx context.Context, circleID uuid.UUID, walletAddress string) (int64, error) {
	contributor, err := u.contributorRepo.Get(ctx, circleID, walletAddress)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return contributor.Balance, nil
}

// GetCircles lists circles newest first
func (u *LedgerUsecase) GetCircles(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error) {
	var circles []*entities.Circle
	err := u.run(ctx, "get_circles", func(ctx context.Context) error {
		var err error
		circles, err = u.circleRepo.List(ctx, filter)
		return err
	})
	return circles, err
}

// GetCircle gets a circle with creator, vault and contributor count
func (u *LedgerUsecase) GetCircle(ctx context.Context, id uuid.UUID) (*entities.Circle, error) {
	return u.circleRepo.GetByID(ctx, id)
}

// GetCircleByOnChainID gets a circle by its contract identifier
func (u *LedgerUsecase) GetCircleByOnChainID(ctx context.Context, onChainID uint64) (*entities.Circle, error) {
	return u.circleRepo.GetByOnChainID(ctx, onChainID)
}

// GetContributors lists the contributors of a circle
func (u *LedgerUsecase) GetContributors(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error) {
	return u.contributorRepo.ListByCircle(ctx, circleID)
}

// GetWithdrawal gets a withdrawal by ID
func (u *LedgerUsecase) GetWithdrawal(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	return u.withdrawalRepo.GetByID(ctx, id)
}

// ListWithdrawals lists withdrawals newest first
func (u *LedgerUsecase) ListWithdrawals(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error) {
	return u.withdrawalRepo.List(ctx, filter)
}

// ListLedgerEvents returns the most recent ledger events of a circle
func (u *LedgerUsecase) ListLedgerEvents(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error) {
	return u.eventRepo.ListByCircle(ctx, circleID, limit)
}

// AdvanceEndedCycles moves every Active circle whose end cycle has passed
// to Ended.
func (u *LedgerUsecase) AdvanceEndedCycles(ctx context.Context, now time.Time) (int64, error) {
	var advanced int64
	err := u.run(ctx, "advance_ended_cycles", func(ctx context.Context) error {
		var err error
		advanced, err = u.circleRepo.MarkEnded(ctx, now.Unix())
		return err
	})
	if err != nil {
		return 0, err
	}
	if advanced > 0 {
		logger.Info(ctx, "Circles moved to ended", zap.Int64("count", advanced))
	}
	return advanced, nil
}

// SnapshotBalances reads the vault total and the contributor sum in one
// transaction so they can be compared.
func (u *LedgerUsecase) SnapshotBalances(ctx context.Context, circleID uuid.UUID) (*entities.BalanceSnapshot, error) {
	snapshot := &entities.BalanceSnapshot{CircleID: circleID}
	err := u.run(ctx, "snapshot_balances", func(ctx context.Context) error {
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			vault, err := u.vaultRepo.GetByCircleID(txCtx, circleID)
			if err != nil {
				return err
			}
			sum, rows, err := u.contributorRepo.SumBalances(txCtx, circleID)
			if err != nil {
				return err
			}
			snapshot.VaultBalance = vault.TotalBalance
			snapshot.ContributorSum = sum
			snapshot.ContributorRows = rows
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !snapshot.Consistent() {
		logger.Error(ctx, "Ledger imbalance detected",
			zap.String("circle_id", circleID.String()),
			zap.Int64("vault_balance", snapshot.VaultBalance),
			zap.Int64("contributor_sum", snapshot.ContributorSum),
		)
	}
	return snapshot, nil
}

func (u *LedgerUsecase) appendEvent(
	ctx context.Context,
	circleID uuid.UUID,
	eventType entities.LedgerEventType,
	walletAddress string,
	amount int64,
	txHash string,
	payload map[string]interface{},
) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return u.eventRepo.Create(ctx, &entities.LedgerEvent{
		ID:            utils.GenerateUUIDv7(),
		CircleID:      circleID,
		EventType:     eventType,
		WalletAddress: walletAddress,
		Amount:        amount,
		TxHash:        txHash,
		Payload:       string(raw),
		Status:        entities.LedgerEventStatusPending,
	})
}

func normalizeOptionalTxHash(txHash string) (string, error) {
	if strings.TrimSpace(txHash) == "" {
		return "", nil
	}
	normalized, ok := utils.NormalizeTxHash(txHash)
	if !ok {
		return "", domainerrors.Invalid("transactionHash is not a valid transaction hash")
	}
	return normalized, nil
}

// run bounds the operation with the engine timeout and records metrics.
// A deadline hit surfaces as ErrExternalUnavailable so callers may retry.
func (u *LedgerUsecase) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, u.opTimeout)
	defer cancel()

	err := fn(opCtx)
	if err != nil && !errors.Is(err, domainerrors.ErrExternalUnavailable) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded)) {
		err = fmt.Errorf("%w: %s timed out: %v", domainerrors.ErrExternalUnavailable, operation, err)
	}

	metrics.LedgerOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	metrics.LedgerOperations.WithLabelValues(operation, metrics.Result(err)).Inc()
	if err != nil {
		logger.Debug(ctx, "Ledger operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}
