package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"circlesave.backend/internal/domain/entities"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "open sqlite")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createUserTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT,
		wallet_address TEXT UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createCircleTables(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE circles (
		id TEXT PRIMARY KEY,
		on_chain_id INTEGER UNIQUE,
		name TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		start_cycle INTEGER NOT NULL,
		end_cycle INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	);`)
	mustExec(t, db, `CREATE TABLE vaults (
		circle_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		total_balance INTEGER NOT NULL DEFAULT 0 CHECK (total_balance >= 0),
		updated_at DATETIME
	);`)
}

func createContributorTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE circle_contributors (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		last_contribution_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (circle_id, wallet_address)
	);`)
}

func createWithdrawalTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE withdrawals (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL DEFAULT 'pending',
		transaction_hash TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createLedgerEventTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		wallet_address TEXT,
		amount INTEGER NOT NULL DEFAULT 0,
		tx_hash TEXT UNIQUE,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createLedgerTables(t *testing.T, db *gorm.DB) {
	createUserTable(t, db)
	createCircleTables(t, db)
	createContributorTable(t, db)
	createWithdrawalTable(t, db)
	createLedgerEventTable(t, db)
}

func seedUser(t *testing.T, db *gorm.DB, username string) *entities.User {
	t.Helper()
	user := &entities.User{ID: uuid.New(), Username: username, Name: username}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func seedCircle(t *testing.T, db *gorm.DB, creatorID uuid.UUID, onChainID uint64, endCycle int64) *entities.Circle {
	t.Helper()
	id := onChainID
	circle := &entities.Circle{
		ID:         uuid.New(),
		OnChainID:  &id,
		Name:       fmt.Sprintf("circle-%d", onChainID),
		CreatorID:  creatorID,
		StartCycle: endCycle - 3600,
		EndCycle:   endCycle,
		Status:     entities.CircleStatusActive,
	}
	require.NoError(t, NewCircleRepository(db).Create(context.Background(), circle, endCycle-3600))
	return circle
}
