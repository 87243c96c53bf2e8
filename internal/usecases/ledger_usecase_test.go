package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"circlesave.backend/internal/config"
	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/infrastructure/models"
	"circlesave.backend/internal/infrastructure/repositories"
	"circlesave.backend/internal/usecases"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
)

var ledgerNow = time.Unix(1_700_000_000, 0).UTC()

func testTxHash(n uint64) string {
	return fmt.Sprintf("0x%064x", n)
}

type ledgerHarness struct {
	db           *gorm.DB
	engine       *usecases.LedgerUsecase
	users        *repositories.UserRepository
	vaults       *repositories.VaultRepository
	contributors *repositories.ContributorRepository
	withdrawals  *repositories.WithdrawalRepository
	events       *repositories.LedgerEventRepository
	circles      *repositories.CircleRepository
}

func newLedgerHarness(t *testing.T, policy string) *ledgerHarness {
	t.Helper()
	return newLedgerHarnessAt(t, policy, fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()))
}

// newFileLedgerHarness backs the engine with an on-disk database whose
// transactions take the write lock up front, so concurrent callers queue
// instead of failing with a locked table.
func newFileLedgerHarness(t *testing.T, policy string) *ledgerHarness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	return newLedgerHarnessAt(t, policy, fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate", path))
}

func newLedgerHarnessAt(t *testing.T, policy, dsn string) *ledgerHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	h := &ledgerHarness{
		db:           db,
		users:        repositories.NewUserRepository(db),
		vaults:       repositories.NewVaultRepository(db),
		contributors: repositories.NewContributorRepository(db),
		withdrawals:  repositories.NewWithdrawalRepository(db),
		events:       repositories.NewLedgerEventRepository(db),
		circles:      repositories.NewCircleRepository(db),
	}
	h.engine = usecases.NewLedgerUsecase(
		repositories.NewUnitOfWork(db),
		h.circles,
		h.vaults,
		h.contributors,
		h.withdrawals,
		h.events,
		usecases.LedgerOptions{
			ClosurePolicy: policy,
			Clock:         func() time.Time { return ledgerNow },
		},
	)
	return h
}

func (h *ledgerHarness) user(t *testing.T, username string) *entities.User {
	t.Helper()
	u := &entities.User{ID: uuid.New(), Username: username, Name: username}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func (h *ledgerHarness) circle(t *testing.T, creator uuid.UUID, onChainID uint64, endCycle int64) *entities.Circle {
	t.Helper()
	c, err := h.engine.CreateCircle(context.Background(), &entities.CreateCircleInput{
		OnChainID:      onChainID,
		Name:           fmt.Sprintf("circle %d", onChainID),
		CreatorID:      creator,
		StartCycle:     endCycle - 86400,
		EndCycle:       endCycle,
		VaultCreatedAt: endCycle - 86400,
	})
	require.NoError(t, err)
	return c
}

func (h *ledgerHarness) deposit(t *testing.T, circleID, userID uuid.UUID, wallet string, amount int64, hash string) *entities.DepositResult {
	t.Helper()
	res, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID:        circleID,
		UserID:          userID,
		WalletAddress:   wallet,
		Amount:          amount,
		TransactionHash: hash,
	})
	require.NoError(t, err)
	return res
}

func (h *ledgerHarness) requireBalanced(t *testing.T, circleID uuid.UUID, wantVault int64) {
	t.Helper()
	snap, err := h.engine.SnapshotBalances(context.Background(), circleID)
	require.NoError(t, err)
	assert.True(t, snap.Consistent(), "vault %d != contributors %d", snap.VaultBalance, snap.ContributorSum)
	assert.Equal(t, wantVault, snap.VaultBalance)
}

func (h *ledgerHarness) eventTypes(t *testing.T, circleID uuid.UUID) []entities.LedgerEventType {
	t.Helper()
	events, err := h.engine.ListLedgerEvents(context.Background(), circleID, 100)
	require.NoError(t, err)
	types := make([]entities.LedgerEventType, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		types = append(types, events[i].EventType)
	}
	return types
}

func TestLedgerUsecase_CreateCircle(t *testing.T) {
	h := newLedgerHarness(t, config.ClosurePolicyFirstWithdrawal)
	creator := h.user(t, "creator")

	c := h.circle(t, creator.ID, 7, ledgerNow.Unix()+3600)
	assert.Equal(t, entities.CircleStatusActive, c.Status)
	require.NotNil(t, c.OnChainID)
	assert.Equal(t, uint64(7), *c.OnChainID)
	require.NotNil(t, c.Vault)
	assert.Equal(t, int64(0), c.Vault.TotalBalance)
	assert.Equal(t, []entities.LedgerEventType{entities.LedgerEventCircleCreated}, h.eventTypes(t, c.ID))

	_, err := h.engine.CreateCircle(context.Background(), &entities.CreateCircleInput{
		OnChainID:  7,
		Name:       "again",
		CreatorID:  creator.ID,
		StartCycle: 1,
		EndCycle:   2,
	})
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyExists)
}

func TestLedgerUsecase_CreateCircle_InvalidInput(t *testing.T) {
	h := newLedgerHarness(t, "")
	creator := uuid.New()

	cases := []struct {
		name  string
		input *entities.CreateCircleInput
	}{
		{"nil input", nil},
		{"zero on-chain id", &entities.CreateCircleInput{Name: "a", CreatorID: creator, EndCycle: 1}},
		{"blank name", &entities.CreateCircleInput{OnChainID: 1, Name: "  ", CreatorID: creator, EndCycle: 1}},
		{"missing creator", &entities.CreateCircleInput{OnChainID: 1, Name: "a", EndCycle: 1}},
		{"end before start", &entities.CreateCircleInput{OnChainID: 1, Name: "a", CreatorID: creator, StartCycle: 10, EndCycle: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CreateCircle(context.Background(), tc.input)
			assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
		})
	}
}

func TestLedgerUsecase_RecordDeposit_Accumulates(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)

	first := h.deposit(t, c.ID, x.ID, walletA, 500, testTxHash(0xa1))
	assert.Equal(t, int64(500), first.Contributor.Balance)
	assert.Equal(t, int64(500), first.Vault.TotalBalance)
	assert.True(t, first.Contributor.LastContributionAt.Equal(ledgerNow))

	second := h.deposit(t, c.ID, x.ID, walletA, 250, testTxHash(0xa2))
	assert.Equal(t, int64(750), second.Contributor.Balance)
	assert.Equal(t, first.Contributor.ID, second.Contributor.ID)

	third := h.deposit(t, c.ID, y.ID, walletB, 300, "")
	assert.Equal(t, int64(300), third.Contributor.Balance)
	assert.Equal(t, int64(1050), third.Vault.TotalBalance)

	h.requireBalanced(t, c.ID, 1050)

	contributors, err := h.engine.GetContributors(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, walletA, contributors[0].WalletAddress)

	got, err := h.engine.GetCircle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ContributorCount)
}

func TestLedgerUsecase_RecordDeposit_ReplayIsRejected(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)

	h.deposit(t, c.ID, x.ID, walletA, 500, testTxHash(0xdeadbeef))
	_, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID:        c.ID,
		UserID:          x.ID,
		WalletAddress:   walletA,
		Amount:          500,
		TransactionHash: testTxHash(0xdeadbeef),
	})
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyExists)

	balance, err := h.engine.GetUserBalanceInCircle(context.Background(), c.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_RecordDeposit_ReplayIgnoresHashCase(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)

	hash := testTxHash(0xabcdef)
	h.deposit(t, c.ID, x.ID, walletA, 500, hash)

	for _, variant := range []string{strings.ToUpper(hash), "0X" + hash[2:], hash[2:], " " + hash + " "} {
		_, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
			CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 500, TransactionHash: variant,
		})
		assert.ErrorIs(t, err, domainerrors.ErrAlreadyExists, variant)
	}

	_, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 500, TransactionHash: "0xdeadbeef",
	})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	h.requireBalanced(t, c.ID, 500)
	events, err := h.engine.ListLedgerEvents(context.Background(), c.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, hash, events[0].TxHash)
}

func TestLedgerUsecase_RecordDeposit_WalletOfAnotherUser(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)
	h.deposit(t, c.ID, x.ID, walletA, 500, testTxHash(1))

	_, err := h.engine.RecordDeposit(ctx, &entities.DepositInput{
		CircleID: c.ID, UserID: y.ID, WalletAddress: walletA, Amount: 300, TransactionHash: testTxHash(2),
	})
	assert.ErrorIs(t, err, domainerrors.ErrWalletMismatch)

	contributors, err := h.engine.GetContributors(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, contributors, 1)
	assert.Equal(t, x.ID, contributors[0].UserID)
	assert.Equal(t, int64(500), contributors[0].Balance)
	h.requireBalanced(t, c.ID, 500)
	assert.Equal(t, []entities.LedgerEventType{
		entities.LedgerEventCircleCreated,
		entities.LedgerEventDepositRecorded,
	}, h.eventTypes(t, c.ID))

	// the rejected hash was never consumed
	h.deposit(t, c.ID, y.ID, walletB, 300, testTxHash(2))
	h.requireBalanced(t, c.ID, 800)
}

func TestLedgerUsecase_RecordDeposit_Rejects(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)

	_, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 0,
	})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	_, err = h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: " ", Amount: 10,
	})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	_, err = h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID: uuid.New(), UserID: x.ID, WalletAddress: walletA, Amount: 10,
	})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	h.requireBalanced(t, c.ID, 0)
}

func TestLedgerUsecase_ProcessWithdrawal_BeforeCycleEnd(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+1)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")

	_, err := h.engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100,
	})
	assert.ErrorIs(t, err, domainerrors.ErrCycleNotEnded)

	withdrawals, err := h.engine.ListWithdrawals(context.Background(), entities.WithdrawalFilter{CircleID: &c.ID})
	require.NoError(t, err)
	assert.Empty(t, withdrawals)
	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_ProcessWithdrawal_InsufficientBalance(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix())
	h.deposit(t, c.ID, x.ID, walletA, 500, "")

	_, err := h.engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 501,
	})
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientFunds)

	got, err := h.engine.GetCircle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusActive, got.Status)
	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_ProcessWithdrawal_OwnershipAndMembership(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-10)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")

	_, err := h.engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: c.ID, UserID: y.ID, WalletAddress: walletA, Amount: 100,
	})
	assert.ErrorIs(t, err, domainerrors.ErrWalletMismatch)

	_, err = h.engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: c.ID, UserID: y.ID, WalletAddress: walletB, Amount: 100,
	})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = h.engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: uuid.New(), UserID: x.ID, WalletAddress: walletA, Amount: 100,
	})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_Scenario_FirstWithdrawalCloses(t *testing.T) {
	h := newLedgerHarness(t, config.ClosurePolicyFirstWithdrawal)
	ctx := context.Background()
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)

	h.deposit(t, c.ID, x.ID, walletA, 500, testTxHash(1))
	res := h.deposit(t, c.ID, y.ID, walletB, 300, testTxHash(2))
	assert.Equal(t, int64(800), res.Vault.TotalBalance)

	w, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusPending, w.Status)

	balance, err := h.engine.GetUserBalanceInCircle(ctx, c.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	h.requireBalanced(t, c.ID, 300)

	got, err := h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusClosed, got.Status)

	completed, err := h.engine.UpdateWithdrawalStatus(ctx, w.ID, entities.WithdrawalStatusCompleted,
		entities.WithdrawalStatusUpdate{TransactionHash: testTxHash(0xf00d)})
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusCompleted, completed.Status)
	assert.Equal(t, testTxHash(0xf00d), completed.TransactionHash.String)
	require.True(t, completed.CompletedAt.Valid)
	assert.True(t, completed.CompletedAt.Time.Equal(ledgerNow))

	// the remaining contributor can still withdraw from a closed circle
	_, err = h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: y.ID, WalletAddress: walletB, Amount: 300,
	})
	require.NoError(t, err)
	h.requireBalanced(t, c.ID, 0)

	got, err = h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusClosed, got.Status)

	assert.Equal(t, []entities.LedgerEventType{
		entities.LedgerEventCircleCreated,
		entities.LedgerEventDepositRecorded,
		entities.LedgerEventDepositRecorded,
		entities.LedgerEventWithdrawalProcessed,
		entities.LedgerEventWithdrawalCompleted,
		entities.LedgerEventWithdrawalProcessed,
	}, h.eventTypes(t, c.ID))
}

func TestLedgerUsecase_DrainedPolicy(t *testing.T) {
	h := newLedgerHarness(t, config.ClosurePolicyDrained)
	ctx := context.Background()
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")
	h.deposit(t, c.ID, y.ID, walletB, 300, "")

	_, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 500,
	})
	require.NoError(t, err)
	got, err := h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusEnded, got.Status)

	_, err = h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: y.ID, WalletAddress: walletB, Amount: 300,
	})
	require.NoError(t, err)
	got, err = h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusClosed, got.Status)
	h.requireBalanced(t, c.ID, 0)
}

func TestLedgerUsecase_UpdateWithdrawalStatus_FailedReleasesReservation(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")

	w, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 200,
	})
	require.NoError(t, err)
	h.requireBalanced(t, c.ID, 300)

	failed, err := h.engine.UpdateWithdrawalStatus(ctx, w.ID, entities.WithdrawalStatusFailed, entities.WithdrawalStatusUpdate{})
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusFailed, failed.Status)
	assert.False(t, failed.CompletedAt.Valid)

	balance, err := h.engine.GetUserBalanceInCircle(ctx, c.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	h.requireBalanced(t, c.ID, 500)

	_, err = h.engine.UpdateWithdrawalStatus(ctx, w.ID, entities.WithdrawalStatusCompleted, entities.WithdrawalStatusUpdate{})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidTransition)
	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_UpdateWithdrawalStatus_Rejects(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()

	_, err := h.engine.UpdateWithdrawalStatus(ctx, uuid.New(), entities.WithdrawalStatusPending, entities.WithdrawalStatusUpdate{})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	_, err = h.engine.UpdateWithdrawalStatus(ctx, uuid.New(), entities.WithdrawalStatusCompleted, entities.WithdrawalStatusUpdate{})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestLedgerUsecase_AttachWithdrawalTxHash(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")
	w, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100,
	})
	require.NoError(t, err)

	_, err = h.engine.AttachWithdrawalTxHash(ctx, w.ID, " ")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	_, err = h.engine.AttachWithdrawalTxHash(ctx, w.ID, "0xabc")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	got, err := h.engine.AttachWithdrawalTxHash(ctx, w.ID, strings.ToUpper(testTxHash(0xabc)))
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusPending, got.Status)
	assert.Equal(t, testTxHash(0xabc), got.TransactionHash.String)

	pending := entities.WithdrawalStatusPending
	withHash, err := h.engine.ListWithdrawals(ctx, entities.WithdrawalFilter{Status: &pending, HasHash: true})
	require.NoError(t, err)
	require.Len(t, withHash, 1)
	assert.Equal(t, w.ID, withHash[0].ID)

	_, err = h.engine.UpdateWithdrawalStatus(ctx, w.ID, entities.WithdrawalStatusCompleted, entities.WithdrawalStatusUpdate{TransactionHash: testTxHash(0xabc)})
	require.NoError(t, err)
	_, err = h.engine.AttachWithdrawalTxHash(ctx, w.ID, testTxHash(0xdef))
	assert.ErrorIs(t, err, domainerrors.ErrInvalidTransition)
}

func TestLedgerUsecase_DetachWithdrawalTxHash(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")
	w, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100,
	})
	require.NoError(t, err)
	_, err = h.engine.AttachWithdrawalTxHash(ctx, w.ID, testTxHash(0xbad))
	require.NoError(t, err)

	require.NoError(t, h.engine.DetachWithdrawalTxHash(ctx, w.ID, testTxHash(0xbad), "not a payout"))

	got, err := h.engine.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusPending, got.Status)
	assert.False(t, got.TransactionHash.Valid)
	h.requireBalanced(t, c.ID, 400)

	types := h.eventTypes(t, c.ID)
	assert.Equal(t, entities.LedgerEventWithdrawalHashRejected, types[len(types)-1])

	// a stale detach must not clear the hash attached since
	_, err = h.engine.AttachWithdrawalTxHash(ctx, w.ID, testTxHash(0x900d))
	require.NoError(t, err)
	err = h.engine.DetachWithdrawalTxHash(ctx, w.ID, testTxHash(0xbad), "not a payout")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidTransition)
	got, err = h.engine.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, testTxHash(0x900d), got.TransactionHash.String)

	err = h.engine.DetachWithdrawalTxHash(ctx, uuid.New(), testTxHash(0x900d), "")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestLedgerUsecase_DeleteCircle(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	doomed := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	kept := h.circle(t, x.ID, 2, ledgerNow.Unix()-60)
	h.deposit(t, doomed.ID, x.ID, walletA, 500, testTxHash(1))
	h.deposit(t, kept.ID, x.ID, walletA, 200, testTxHash(2))
	_, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: doomed.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100,
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteCircle(ctx, doomed.ID))

	_, err = h.engine.GetCircle(ctx, doomed.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	withdrawals, err := h.engine.ListWithdrawals(ctx, entities.WithdrawalFilter{CircleID: &doomed.ID})
	require.NoError(t, err)
	assert.Empty(t, withdrawals)
	contributors, err := h.engine.GetContributors(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, contributors)

	h.requireBalanced(t, kept.ID, 200)
	assert.ErrorIs(t, h.engine.DeleteCircle(ctx, doomed.ID), domainerrors.ErrNotFound)
}

func TestLedgerUsecase_AdvanceEndedCycles(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	ended := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	running := h.circle(t, x.ID, 2, ledgerNow.Unix()+60)

	n, err := h.engine.AdvanceEndedCycles(ctx, ledgerNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := h.engine.GetCircle(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusEnded, got.Status)
	got, err = h.engine.GetCircle(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusActive, got.Status)

	n, err = h.engine.AdvanceEndedCycles(ctx, ledgerNow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedgerUsecase_GetUserBalanceInCircle_Unknown(t *testing.T) {
	h := newLedgerHarness(t, "")
	balance, err := h.engine.GetUserBalanceInCircle(context.Background(), uuid.New(), walletA)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLedgerUsecase_GetCircles_Filters(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	y := h.user(t, "y")
	mine := h.circle(t, x.ID, 1, ledgerNow.Unix()+60)
	joined := h.circle(t, y.ID, 2, ledgerNow.Unix()+60)
	h.deposit(t, joined.ID, x.ID, walletA, 10, "")

	created, err := h.engine.GetCircles(ctx, entities.CircleFilter{CreatorID: &x.ID})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, mine.ID, created[0].ID)

	participated, err := h.engine.GetCircles(ctx, entities.CircleFilter{ParticipantID: &x.ID})
	require.NoError(t, err)
	require.Len(t, participated, 1)
	assert.Equal(t, joined.ID, participated[0].ID)

	byChain, err := h.engine.GetCircleByOnChainID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, joined.ID, byChain.ID)
}

func TestLedgerUsecase_TimeoutIsRetryable(t *testing.T) {
	uow := new(MockUnitOfWork)
	circleRepo := new(MockCircleRepository)
	engine := usecases.NewLedgerUsecase(uow, circleRepo, new(MockVaultRepository), new(MockContributorRepository),
		new(MockWithdrawalRepository), new(MockLedgerEventRepository), usecases.LedgerOptions{OpTimeout: 10 * time.Millisecond})

	circleRepo.On("List", mock.Anything, entities.CircleFilter{}).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded).Once()

	_, err := engine.GetCircles(context.Background(), entities.CircleFilter{})
	assert.ErrorIs(t, err, domainerrors.ErrExternalUnavailable)
	assert.True(t, domainerrors.IsRetryable(err))
	circleRepo.AssertExpectations(t)
}

func TestLedgerUsecase_ProcessWithdrawal_LocksBeforeWriting(t *testing.T) {
	uow := new(MockUnitOfWork)
	circleRepo := new(MockCircleRepository)
	vaultRepo := new(MockVaultRepository)
	contributorRepo := new(MockContributorRepository)
	withdrawalRepo := new(MockWithdrawalRepository)
	engine := usecases.NewLedgerUsecase(uow, circleRepo, vaultRepo, contributorRepo, withdrawalRepo,
		new(MockLedgerEventRepository), usecases.LedgerOptions{Clock: func() time.Time { return ledgerNow }})

	circleID := uuid.New()
	userID := uuid.New()
	lockCtx := context.WithValue(context.Background(), lockMarker{}, true)

	uow.On("Do", mock.Anything, mock.Anything).Once()
	uow.On("WithLock", mock.Anything).Return(lockCtx).Once()
	circleRepo.On("GetByID", lockCtx, circleID).Return(&entities.Circle{ID: circleID, EndCycle: ledgerNow.Unix() - 1}, nil).Once()
	vaultRepo.On("GetByCircleID", lockCtx, circleID).Return(&entities.Vault{CircleID: circleID, TotalBalance: 100}, nil).Once()
	contributorRepo.On("Get", lockCtx, circleID, walletA).Return(&entities.Contributor{
		CircleID: circleID, UserID: userID, WalletAddress: walletA, Balance: 50,
	}, nil).Once()

	_, err := engine.ProcessWithdrawal(context.Background(), &entities.WithdrawalInput{
		CircleID: circleID, UserID: userID, WalletAddress: walletA, Amount: 80,
	})
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientFunds)

	withdrawalRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	vaultRepo.AssertNotCalled(t, "DecrementBalance", mock.Anything, mock.Anything, mock.Anything)
	contributorRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	uow.AssertExpectations(t)
	circleRepo.AssertExpectations(t)
	vaultRepo.AssertExpectations(t)
	contributorRepo.AssertExpectations(t)
}

type lockMarker struct{}

func failWritesTo(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	fail := func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(errors.New("injected write failure"))
		}
	}
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_create", fail))
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_update", fail))
}

func TestLedgerUsecase_RecordDeposit_AtomicOnStoreFailure(t *testing.T) {
	h := newLedgerHarness(t, "")
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+60)
	failWritesTo(t, h.db, "circle_contributors")

	_, err := h.engine.RecordDeposit(context.Background(), &entities.DepositInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100, TransactionHash: testTxHash(0xfa),
	})
	require.Error(t, err)

	h.requireBalanced(t, c.ID, 0)
	assert.Equal(t, []entities.LedgerEventType{entities.LedgerEventCircleCreated}, h.eventTypes(t, c.ID))
}

func TestLedgerUsecase_ProcessWithdrawal_AtomicOnStoreFailure(t *testing.T) {
	h := newLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 500, "")
	failWritesTo(t, h.db, "circle_contributors")

	_, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
		CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 200,
	})
	require.Error(t, err)

	withdrawals, err := h.engine.ListWithdrawals(ctx, entities.WithdrawalFilter{CircleID: &c.ID})
	require.NoError(t, err)
	assert.Empty(t, withdrawals)
	got, err := h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircleStatusActive, got.Status)
	h.requireBalanced(t, c.ID, 500)
}

func TestLedgerUsecase_ConcurrentDeposits(t *testing.T) {
	h := newFileLedgerHarness(t, "")
	ctx := context.Background()
	x := h.user(t, "x")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()+3600)

	const members = 8
	others := make([]*entities.User, members)
	for i := range others {
		others[i] = h.user(t, fmt.Sprintf("member%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*members+4)
	for i := 0; i < members; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.RecordDeposit(ctx, &entities.DepositInput{
				CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 100, TransactionHash: testTxHash(uint64(100 + i)),
			})
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.RecordDeposit(ctx, &entities.DepositInput{
				CircleID: c.ID, UserID: others[i].ID, WalletAddress: fmt.Sprintf("0x%040x", i+1), Amount: 50,
			})
			errs <- err
		}(i)
	}

	// the same transaction raced four times is credited once
	replayed := testTxHash(0xcafe)
	var credited, rejected int
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordDeposit(ctx, &entities.DepositInput{
				CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 1000, TransactionHash: replayed,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				credited++
			case errors.Is(err, domainerrors.ErrAlreadyExists):
				rejected++
			default:
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, 3, rejected)

	balance, err := h.engine.GetUserBalanceInCircle(ctx, c.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(members*100+1000), balance)
	h.requireBalanced(t, c.ID, members*100+members*50+1000)

	got, err := h.engine.GetCircle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(members+1), got.ContributorCount)
}

func TestLedgerUsecase_ConcurrentWithdrawals(t *testing.T) {
	h := newFileLedgerHarness(t, config.ClosurePolicyDrained)
	ctx := context.Background()
	x := h.user(t, "x")
	y := h.user(t, "y")
	c := h.circle(t, x.ID, 1, ledgerNow.Unix()-60)
	h.deposit(t, c.ID, x.ID, walletA, 1000, testTxHash(1))
	h.deposit(t, c.ID, y.ID, walletB, 400, testTxHash(2))

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, insufficient int
	var unexpected []error
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
				CircleID: c.ID, UserID: x.ID, WalletAddress: walletA, Amount: 300,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domainerrors.ErrInsufficientFunds):
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	// y keeps depositing and withdrawing alongside
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.engine.RecordDeposit(ctx, &entities.DepositInput{
			CircleID: c.ID, UserID: y.ID, WalletAddress: walletB, Amount: 100, TransactionHash: testTxHash(3),
		})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			unexpected = append(unexpected, err)
		}
	}()
	go func() {
		defer wg.Done()
		_, err := h.engine.ProcessWithdrawal(ctx, &entities.WithdrawalInput{
			CircleID: c.ID, UserID: y.ID, WalletAddress: walletB, Amount: 400,
		})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			unexpected = append(unexpected, err)
		}
	}()
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, insufficient)

	contributors, err := h.engine.GetContributors(ctx, c.ID)
	require.NoError(t, err)
	for _, contributor := range contributors {
		assert.GreaterOrEqual(t, contributor.Balance, int64(0), contributor.WalletAddress)
	}
	balance, err := h.engine.GetUserBalanceInCircle(ctx, c.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	withdrawals, err := h.engine.ListWithdrawals(ctx, entities.WithdrawalFilter{CircleID: &c.ID})
	require.NoError(t, err)
	var reserved int64
	for _, w := range withdrawals {
		reserved += w.Amount
	}
	assert.Equal(t, int64(3*300+400), reserved)
	// deposits in, reservations out
	h.requireBalanced(t, c.ID, 1000+400+100-reserved)
}
