package usecases_test

import (
	"context"
	"time"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) Do(ctx context.Context, f func(context.Context) error) error {
	m.Called(ctx, f)
	return f(ctx)
}

func (m *MockUnitOfWork) WithLock(ctx context.Context) context.Context {
	args := m.Called(ctx)
	return args.Get(0).(context.Context)
}

// Mock UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *entities.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error) {
	args := m.Called(ctx, walletAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) SetWalletAddress(ctx context.Context, id uuid.UUID, walletAddress string) error {
	args := m.Called(ctx, id, walletAddress)
	return args.Error(0)
}

// Mock CircleRepository
type MockCircleRepository struct {
	mock.Mock
}

func (m *MockCircleRepository) Create(ctx context.Context, circle *entities.Circle, vaultCreatedAt int64) error {
	args := m.Called(ctx, circle, vaultCreatedAt)
	return args.Error(0)
}

func (m *MockCircleRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Circle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Circle), args.Error(1)
}

func (m *MockCircleRepository) GetByOnChainID(ctx context.Context, onChainID uint64) (*entities.Circle, error) {
	args := m.Called(ctx, onChainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Circle), args.Error(1)
}

func (m *MockCircleRepository) List(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Circle), args.Error(1)
}

func (m *MockCircleRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, status entities.CircleStatus) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircleRepository) MarkEnded(ctx context.Context, cutoff int64) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCircleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Mock VaultRepository
type MockVaultRepository struct {
	mock.Mock
}

func (m *MockVaultRepository) GetByCircleID(ctx context.Context, circleID uuid.UUID) (*entities.Vault, error) {
	args := m.Called(ctx, circleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Vault), args.Error(1)
}

func (m *MockVaultRepository) IncrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error {
	args := m.Called(ctx, circleID, amount)
	return args.Error(0)
}

func (m *MockVaultRepository) DecrementBalance(ctx context.Context, circleID uuid.UUID, amount int64) error {
	args := m.Called(ctx, circleID, amount)
	return args.Error(0)
}

// Mock ContributorRepository
type MockContributorRepository struct {
	mock.Mock
}

func (m *MockContributorRepository) Get(ctx context.Context, circleID uuid.UUID, walletAddress string) (*entities.Contributor, error) {
	args := m.Called(ctx, circleID, walletAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Contributor), args.Error(1)
}

func (m *MockContributorRepository) ListByCircle(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error) {
	args := m.Called(ctx, circleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Contributor), args.Error(1)
}

func (m *MockContributorRepository) Credit(ctx context.Context, circleID, userID uuid.UUID, walletAddress string, amount int64, at time.Time) error {
	args := m.Called(ctx, circleID, userID, walletAddress, amount, at)
	return args.Error(0)
}

func (m *MockContributorRepository) Debit(ctx context.Context, circleID uuid.UUID, walletAddress string, amount int64) error {
	args := m.Called(ctx, circleID, walletAddress, amount)
	return args.Error(0)
}

func (m *MockContributorRepository) SumBalances(ctx context.Context, circleID uuid.UUID) (int64, int64, error) {
	args := m.Called(ctx, circleID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockContributorRepository) SumByWallet(ctx context.Context, walletAddress string) (int64, error) {
	args := m.Called(ctx, walletAddress)
	return args.Get(0).(int64), args.Error(1)
}

// Mock WithdrawalRepository
type MockWithdrawalRepository struct {
	mock.Mock
}

func (m *MockWithdrawalRepository) Create(ctx context.Context, withdrawal *entities.Withdrawal) error {
	args := m.Called(ctx, withdrawal)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalRepository) List(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalRepository) Finalize(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, txHash string, completedAt *time.Time) error {
	args := m.Called(ctx, id, status, txHash, completedAt)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	args := m.Called(ctx, id, txHash)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) ClearTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	args := m.Called(ctx, id, txHash)
	return args.Error(0)
}

// Mock LedgerEventRepository
type MockLedgerEventRepository struct {
	mock.Mock
}

func (m *MockLedgerEventRepository) Create(ctx context.Context, event *entities.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockLedgerEventRepository) ListByCircle(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error) {
	args := m.Called(ctx, circleID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.LedgerEvent), args.Error(1)
}

func (m *MockLedgerEventRepository) GetPending(ctx context.Context, limit int) ([]*entities.LedgerEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.LedgerEvent), args.Error(1)
}

func (m *MockLedgerEventRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerEventRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerEventRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Mock ChainOracle
type MockChainOracle struct {
	mock.Mock
}

func (m *MockChainOracle) GetCircleInfo(ctx context.Context, onChainID uint64) (*entities.ChainCircleInfo, error) {
	args := m.Called(ctx, onChainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ChainCircleInfo), args.Error(1)
}

func (m *MockChainOracle) GetUserBalance(ctx context.Context, onChainID uint64, address string) int64 {
	args := m.Called(ctx, onChainID, address)
	return args.Get(0).(int64)
}

// Mock PayoutVerifier
type MockPayoutVerifier struct {
	mock.Mock
}

func (m *MockPayoutVerifier) VerifyPayout(ctx context.Context, claim entities.PayoutClaim) (entities.PayoutOutcome, error) {
	args := m.Called(ctx, claim)
	return args.Get(0).(entities.PayoutOutcome), args.Error(1)
}

// Mock Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreateCircle(ctx context.Context, input *entities.CreateCircleInput) (*entities.Circle, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Circle), args.Error(1)
}

func (m *MockLedger) RecordDeposit(ctx context.Context, input *entities.DepositInput) (*entities.DepositResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.DepositResult), args.Error(1)
}

func (m *MockLedger) ProcessWithdrawal(ctx context.Context, input *entities.WithdrawalInput) (*entities.Withdrawal, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Withdrawal), args.Error(1)
}

func (m *MockLedger) UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status entities.WithdrawalStatus, update entities.WithdrawalStatusUpdate) (*entities.Withdrawal, error) {
	args := m.Called(ctx, id, status, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Withdrawal), args.Error(1)
}

func (m *MockLedger) AttachWithdrawalTxHash(ctx context.Context, id uuid.UUID, txHash string) (*entities.Withdrawal, error) {
	args := m.Called(ctx, id, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Withdrawal), args.Error(1)
}

func (m *MockLedger) GetUserBalanceInCircle(ctx context.Context, circleID uuid.UUID, walletAddress string) (int64, error) {
	args := m.Called(ctx, circleID, walletAddress)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) GetCircles(ctx context.Context, filter entities.CircleFilter) ([]*entities.Circle, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Circle), args.Error(1)
}

func (m *MockLedger) GetCircle(ctx context.Context, id uuid.UUID) (*entities.Circle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Circle), args.Error(1)
}

func (m *MockLedger) GetContributors(ctx context.Context, circleID uuid.UUID) ([]*entities.Contributor, error) {
	args := m.Called(ctx, circleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Contributor), args.Error(1)
}

func (m *MockLedger) GetWithdrawal(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Withdrawal), args.Error(1)
}

func (m *MockLedger) ListWithdrawals(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.Withdrawal, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Withdrawal), args.Error(1)
}

func (m *MockLedger) ListLedgerEvents(ctx context.Context, circleID uuid.UUID, limit int) ([]*entities.LedgerEvent, error) {
	args := m.Called(ctx, circleID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.LedgerEvent), args.Error(1)
}
