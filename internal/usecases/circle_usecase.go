package usecases

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/domain/repositories"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const activityLimit = 100

// Ledger is the engine surface the access layer needs
type Ledger interface {
	CreateCircle(ctx context.Context, input *entities.CreateCircleInput) (*entities.Circle, error)
	RecordDeposit(ctx context.Context, input *entities.DepositInput) (*entities.DepositResult, error)
	ProcessWithdrawal(ctx context.Context, input *entities.WithdrawalInput) (*entities.Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, update entities.WithdrawalStatusUpdate) (*entities.Withdrawal, error)
	AttachWithdrawalTxHash(ctx context.Context, id uuid.UUID, txHash string) (*entities.Withdrawal, error)
	GetUserBalanceInCircle(ctx context.Context, circleID uuid.UUID, walletAddress string) (int64, error)
	GetCircles(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error)
	GetCircle(ctx context.Context, id uuid.UUID) (*entities.Circle, error)
	GetContributors(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error)
	ListWithdrawals(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error)
	ListLedgerEvents(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error)
}

// CircleUsecase is the caller-facing layer over the engine. It binds
// requests to the authenticated user, enforces wallet ownership and masks
// other members' balances.
type CircleUsecase struct {
	ledger   Ledger
	oracle   repositories.ChainOracle
	payouts  repositories.PayoutVerifier
	userRepo repositories.UserRepository
}

// NewCircleUsecase creates a new circle usecase
func NewCircleUsecase(
	ledger Ledger,
	oracle repositories.ChainOracle,
	payouts repositories.PayoutVerifier,
	userRepo repositories.UserRepository,
) *CircleUsecase {
	return &CircleUsecase{
		ledger:   ledger,
		oracle:   oracle,
		payouts:  payouts,
		userRepo: userRepo,
	}
}

// SyncCircle registers a circle the caller created on chain. The chain
// metadata is authoritative over the submitted name.
func (u *CircleUsecase) SyncCircle(ctx context.Context, userID uuid.UUID, req *entities.CreateCircleRequest) (*entities.CircleView, error) {
	if req == nil {
		return nil, domainerrors.Invalid("request body is required")
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case req.OnChainID == 0:
		return nil, domainerrors.Invalid("onChainId must be positive")
	case name == "":
		return nil, domainerrors.Invalid("name is required")
	case req.DurationDays <= 0:
		return nil, domainerrors.Invalid("durationDays must be positive")
	}

	info, err := u.oracle.GetCircleInfo(ctx, req.OnChainID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.Invalid("circle not found on chain")
		}
		return nil, err
	}
	if info.Name != name {
		logger.Warn(ctx, "Circle name differs from chain, using chain name",
			zap.Uint64("on_chain_id", req.OnChainID),
			zap.String("submitted", name),
			zap.String("chain", info.Name),
		)
	}

	circle, err := u.ledger.CreateCircle(ctx, &entities.CreateCircleInput{
		OnChainID:       req.OnChainID,
		Name:            info.Name,
		CreatorID:       userID,
		StartCycle:      info.StartCycle,
		EndCycle:        info.EndCycle,
		VaultCreatedAt:  info.StartCycle,
		TransactionHash: req.TransactionHash,
	})
	if err != nil {
		return nil, err
	}
	return toCircleView(circle, userID), nil
}

// ListCircles returns circles with the given status, or when no status is
// given, the circles the caller created or contributed to.
func (u *CircleUsecase) ListCircles(ctx context.Context, userID uuid.UUID, status *entities.CircleStatus, page utils.PaginationParams) ([]*entities.CircleView, error) {
	if status != nil {
		if !status.IsValid() {
			return nil, domainerrors.Invalid("status must be 0, 1 or 2")
		}
		circles, err := u.ledger.GetCircles(ctx, entities.CircleFilter{Status: status, Limit: page.Limit, Offset: page.Offset})
		if err != nil {
			return nil, err
		}
		return toCircleViews(circles, userID), nil
	}
	return u.mine(ctx, userID, nil)
}

// History returns the closed circles the caller created or contributed to
func (u *CircleUsecase) History(ctx context.Context, userID uuid.UUID) ([]*entities.CircleView, error) {
	closed := entities.CircleStatusClosed
	return u.mine(ctx, userID, &closed)
}

func (u *CircleUsecase) mine(ctx context.Context, userID uuid.UUID, status *entities.CircleStatus) ([]*entities.CircleView, error) {
	created, err := u.ledger.GetCircles(ctx, entities.CircleFilter{CreatorID: &userID, Status: status})
	if err != nil {
		return nil, err
	}
	joined, err := u.ledger.GetCircles(ctx, entities.CircleFilter{ParticipantID: &userID, Status: status})
	if err != nil {
		return nil, err
	}
	return toCircleViews(mergeCircles(created, joined), userID), nil
}

// mergeCircles unions both lists by circle ID, newest first
func mergeCircles(lists ...[]*entities.Circle) []*entities.Circle {
	seen := make(map[uuid.UUID]bool)
	merged := make([]*entities.Circle, 0)
	for _, list := range lists {
		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			merged = append(merged, c)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

// GetCircleDetail returns the circle with its members. Only the caller's
// own contributor row shows wallet and balance.
func (u *CircleUsecase) GetCircleDetail(ctx context.Context, userID, circleID uuid.UUID) (*entities.CircleDetail, error) {
	circle, err := u.ledger.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	contributors, err := u.ledger.GetContributors(ctx, circleID)
	if err != nil {
		return nil, err
	}

	detail := &entities.CircleDetail{
		CircleView:    *toCircleView(circle, userID),
		Contributors:  make([]entities.ContributorView, 0, len(contributors)),
		UserBalance:   "0",
		LedgerBalance: "0",
	}
	for _, c := range contributors {
		detail.Contributors = append(detail.Contributors, toContributorView(c, userID))
	}

	if user.WalletAddress != nil {
		if circle.OnChainID != nil {
			detail.UserBalance = entities.FormatAmount(u.oracle.GetUserBalance(ctx, *circle.OnChainID, *user.WalletAddress))
		}
		balance, err := u.ledger.GetUserBalanceInCircle(ctx, circleID, *user.WalletAddress)
		if err != nil {
			return nil, err
		}
		detail.LedgerBalance = entities.FormatAmount(balance)
	}
	return detail, nil
}

// JoinCircle reconciles a deposit the caller already made on chain. The
// wallet is bound to the account on first use.
func (u *CircleUsecase) JoinCircle(ctx context.Context, userID, circleID uuid.UUID, req *entities.JoinCircleRequest) (*entities.DepositView, error) {
	if req == nil {
		return nil, domainerrors.Invalid("request body is required")
	}
	wallet, ok := utils.NormalizeAddress(req.WalletAddress)
	if !ok {
		return nil, domainerrors.Invalid("walletAddress is not a valid address")
	}
	if req.Amount <= 0 {
		return nil, domainerrors.Invalid("amount must be positive")
	}
	txHash := strings.TrimSpace(req.TransactionHash)
	if txHash != "" {
		if txHash, ok = utils.NormalizeTxHash(txHash); !ok {
			return nil, domainerrors.Invalid("transactionHash is not a valid transaction hash")
		}
	}

	circle, err := u.ledger.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if err := u.bindWallet(ctx, userID, wallet); err != nil {
		return nil, err
	}

	if circle.OnChainID != nil && u.oracle.GetUserBalance(ctx, *circle.OnChainID, wallet) == 0 {
		return nil, domainerrors.Invalid("no on-chain balance found for this wallet")
	}

	result, err := u.ledger.RecordDeposit(ctx, &entities.DepositInput{
		CircleID:        circleID,
		UserID:          userID,
		WalletAddress:   wallet,
		Amount:          req.Amount,
		TransactionHash: txHash,
	})
	if err != nil {
		return nil, err
	}
	return &entities.DepositView{
		Balance:            entities.FormatAmount(result.Contributor.Balance),
		LastContributionAt: result.Contributor.LastContributionAt,
		VaultBalance:       entities.FormatAmount(result.Vault.TotalBalance),
	}, nil
}

// bindWallet links wallet to the user when unset and otherwise requires it
// to match the linked one.
func (u *CircleUsecase) bindWallet(ctx context.Context, userID uuid.UUID, wallet string) error {
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.WalletAddress != nil {
		if !utils.SameAddress(*user.WalletAddress, wallet) {
			return domainerrors.ErrWalletMismatch
		}
		return nil
	}
	if err := u.userRepo.SetWalletAddress(ctx, userID, wallet); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return domainerrors.Conflict("wallet is linked to another account")
		}
		return err
	}
	logger.Info(ctx, "Wallet linked on first deposit",
		zap.String("user_id", userID.String()),
		zap.String("wallet_address", wallet),
	)
	return nil
}

// Withdraw reserves a payout from the caller's balance. A payout hash sent
// along is attached and completes the withdrawal right away when the chain
// already proves it; otherwise the confirmation job settles it later.
func (u *CircleUsecase) Withdraw(ctx context.Context, userID, circleID uuid.UUID, req *entities.WithdrawRequest) (*entities.WithdrawalView, error) {
	if req == nil {
		return nil, domainerrors.Invalid("request body is required")
	}
	wallet, ok := utils.NormalizeAddress(req.WalletAddress)
	if !ok {
		return nil, domainerrors.Invalid("walletAddress is not a valid address")
	}
	if req.Amount <= 0 {
		return nil, domainerrors.Invalid("amount must be positive")
	}
	txHash := strings.TrimSpace(req.TransactionHash)
	if txHash != "" {
		if txHash, ok = utils.NormalizeTxHash(txHash); !ok {
			return nil, domainerrors.Invalid("transactionHash is not a valid transaction hash")
		}
	}

	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.WalletAddress == nil || !utils.SameAddress(*user.WalletAddress, wallet) {
		return nil, domainerrors.ErrWalletMismatch
	}

	withdrawal, err := u.ledger.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID:      circleID,
		UserID:        userID,
		WalletAddress: wallet,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, err
	}
	if txHash == "" {
		return entities.NewWithdrawalView(withdrawal), nil
	}

	// the debit is committed: from here on failures leave the withdrawal
	// pending instead of failing the request
	return entities.NewWithdrawalView(u.settleOnWithdraw(ctx, withdrawal, txHash)), nil
}

func (u *CircleUsecase) settleOnWithdraw(ctx context.Context, withdrawal *entities.Withdrawal, txHash string) *entities.Withdrawal {
	fields := []zap.Field{zap.String("withdrawal_id", withdrawal.ID.String()), zap.String("tx_hash", txHash)}

	attached, err := u.ledger.AttachWithdrawalTxHash(ctx, withdrawal.ID, txHash)
	if err != nil {
		logger.Error(ctx, "Failed to attach payout hash", append(fields, zap.Error(err))...)
		return withdrawal
	}

	circle, err := u.ledger.GetCircle(ctx, attached.CircleID)
	if err != nil || circle.OnChainID == nil {
		return attached
	}
	balance, err := u.ledger.GetUserBalanceInCircle(ctx, attached.CircleID, attached.WalletAddress)
	if err != nil {
		return attached
	}
	outcome, err := u.payouts.VerifyPayout(ctx, entities.NewPayoutClaim(attached, *circle.OnChainID, balance))
	if err != nil || outcome != entities.PayoutConfirmed {
		logger.Info(ctx, "Payout not confirmed yet, left for the confirmation job",
			append(fields, zap.String("outcome", outcome.String()), zap.Error(err))...)
		return attached
	}

	completed, err := u.ledger.UpdateWithdrawalStatus(ctx, withdrawal.ID, entities.WithdrawalStatusCompleted,
		entities.WithdrawalStatusUpdate{TransactionHash: txHash})
	if err != nil {
		logger.Error(ctx, "Failed to complete withdrawal", append(fields, zap.Error(err))...)
		return attached
	}
	return completed
}

// ConfirmWithdrawal lets the owner attach the payout hash of a pending
// withdrawal. Owners never settle a withdrawal themselves: completion and
// failure come from the chain.
func (u *CircleUsecase) ConfirmWithdrawal(ctx context.Context, userID, withdrawalID uuid.UUID, req *entities.ConfirmWithdrawalRequest) (*entities.WithdrawalView, error) {
	if req == nil {
		return nil, domainerrors.Invalid("request body is required")
	}
	switch req.Status {
	case "", entities.WithdrawalStatusPending:
	default:
		return nil, domainerrors.Invalid("status must be pending; payouts are settled from the chain")
	}

	withdrawal, err := u.ledger.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.UserID != userID {
		// hide other users' withdrawals
		return nil, domainerrors.ErrNotFound
	}

	withdrawal, err = u.ledger.AttachWithdrawalTxHash(ctx, withdrawalID, req.TransactionHash)
	if err != nil {
		return nil, err
	}
	return entities.NewWithdrawalView(withdrawal), nil
}

// ListMyWithdrawals lists the caller's withdrawals, optionally for one circle
func (u *CircleUsecase) ListMyWithdrawals(ctx context.Context, userID uuid.UUID, circleID *uuid.UUID, page utils.PaginationParams) ([]*entities.WithdrawalView, error) {
	withdrawals, err := u.ledger.ListWithdrawals(ctx, entities.WithdrawalFilter{
		CircleID: circleID,
		UserID:   &userID,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return nil, err
	}
	views := make([]*entities.WithdrawalView, 0, len(withdrawals))
	for _, w := range withdrawals {
		views = append(views, entities.NewWithdrawalView(w))
	}
	return views, nil
}

// Activity returns the caller's own ledger events in a circle, newest first
func (u *CircleUsecase) Activity(ctx context.Context, userID, circleID uuid.UUID) ([]*entities.ActivityView, error) {
	if _, err := u.ledger.GetCircle(ctx, circleID); err != nil {
		return nil, err
	}
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	activity := make([]*entities.ActivityView, 0)
	if user.WalletAddress == nil {
		return activity, nil
	}

	events, err := u.ledger.ListLedgerEvents(ctx, circleID, activityLimit)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.WalletAddress == "" || !utils.SameAddress(e.WalletAddress, *user.WalletAddress) {
			continue
		}
		activity = append(activity, &entities.ActivityView{
			EventType: e.EventType,
			Amount:    entities.FormatAmount(e.Amount),
			TxHash:    e.TxHash,
			CreatedAt: e.CreatedAt,
		})
	}
	return activity, nil
}

func toCircleViews(circles []*entities.Circle, viewerID uuid.UUID) []*entities.CircleView {
	views := make([]*entities.CircleView, 0, len(circles))
	for _, c := range circles {
		views = append(views, toCircleView(c, viewerID))
	}
	return views
}

func toCircleView(c *entities.Circle, viewerID uuid.UUID) *entities.CircleView {
	isCreator := c.CreatorID == viewerID
	view := &entities.CircleView{
		ID:               c.ID,
		Name:             c.Name,
		Creator:          entities.CreatorView{ID: c.CreatorID},
		StartCycle:       strconv.FormatInt(c.StartCycle, 10),
		EndCycle:         strconv.FormatInt(c.EndCycle, 10),
		Status:           c.Status,
		TotalBalance:     "0",
		ContributorCount: c.ContributorCount,
		IsCreator:        isCreator,
		CreatedAt:        c.CreatedAt,
	}
	if c.OnChainID != nil {
		view.OnChainID = strconv.FormatUint(*c.OnChainID, 10)
	}
	if c.Vault != nil {
		view.TotalBalance = entities.FormatAmount(c.Vault.TotalBalance)
	}
	if c.Creator != nil {
		view.Creator.Username = c.Creator.Username
		view.Creator.Name = c.Creator.Name
		if isCreator {
			view.Creator.WalletAddress = c.Creator.WalletAddress
		}
	}
	return view
}

func toContributorView(c *entities.Contributor, viewerID uuid.UUID) entities.ContributorView {
	view := entities.ContributorView{
		ID:                 c.UserID,
		LastContributionAt: c.LastContributionAt,
		JoinedAt:           c.JoinedAt,
	}
	if c.User != nil {
		view.Username = c.User.Username
		view.Name = c.User.Name
	}
	if c.UserID == viewerID {
		wallet := c.WalletAddress
		balance := entities.FormatAmount(c.Balance)
		view.WalletAddress = &wallet
		view.Balance = &balance
	}
	return view
}

var _ Ledger = (*LedgerUsecase)(nil)
