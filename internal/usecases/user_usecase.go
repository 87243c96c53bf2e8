package usecases

import (
	"context"
	"errors"
	"strings"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/domain/repositories"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserUsecase handles account lookups and wallet linking
type UserUsecase struct {
	userRepo        repositories.UserRepository
	contributorRepo repositories.ContributorRepository
}

// NewUserUsecase creates a new user usecase
func NewUserUsecase(userRepo repositories.UserRepository, contributorRepo repositories.ContributorRepository) *UserUsecase {
	return &UserUsecase{userRepo: userRepo, contributorRepo: contributorRepo}
}

// EnsureUser provisions the local account of an authenticated caller on
// first sight. Identity is owned by the token issuer.
func (u *UserUsecase) EnsureUser(ctx context.Context, userID uuid.UUID, username string) error {
	_, err := u.userRepo.GetByID(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = userID.String()
	}
	err = u.userRepo.Create(ctx, &entities.User{
		ID:       userID,
		Username: username,
		Name:     username,
	})
	if err != nil && !errors.Is(err, domainerrors.ErrAlreadyExists) {
		return err
	}
	if err == nil {
		logger.Info(ctx, "User provisioned", zap.String("user_id", userID.String()))
	}
	return nil
}

// GetMe returns the caller's account
func (u *UserUsecase) GetMe(ctx context.Context, userID uuid.UUID) (*entities.User, error) {
	return u.userRepo.GetByID(ctx, userID)
}

// LinkWallet links a wallet to the caller. One wallet belongs to at most
// one account, and a wallet still holding circle balances cannot be
// swapped out.
func (u *UserUsecase) LinkWallet(ctx context.Context, userID uuid.UUID, input *entities.LinkWalletInput) (*entities.User, error) {
	if input == nil {
		return nil, domainerrors.Invalid("request body is required")
	}
	wallet, ok := utils.NormalizeAddress(input.WalletAddress)
	if !ok {
		return nil, domainerrors.Invalid("walletAddress is not a valid address")
	}

	current, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.WalletAddress != nil && !utils.SameAddress(*current.WalletAddress, wallet) {
		held, err := u.contributorRepo.SumByWallet(ctx, *current.WalletAddress)
		if err != nil {
			return nil, err
		}
		if held > 0 {
			return nil, domainerrors.Conflict("linked wallet still holds circle balances")
		}
	}

	if err := u.userRepo.SetWalletAddress(ctx, userID, wallet); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return nil, domainerrors.Conflict("wallet is linked to another account")
		}
		return nil, err
	}

	logger.Info(ctx, "Wallet linked",
		zap.String("user_id", userID.String()),
		zap.String("wallet_address", wallet),
	)
	return u.userRepo.GetByID(ctx, userID)
}
