package repositories

import (
	"context"

	"circlesave.backend/internal/domain/entities"
)

// ChainOracle is the read-only view of the on-chain circle program
type ChainOracle interface {
	// GetCircleInfo propagates failures: circle creation cannot proceed
	// without identity confirmation.
	GetCircleInfo(ctx context.Context, onChainID uint64) (*entities.ChainCircleInfo, error)
	// GetUserBalance degrades to zero on failure.
	GetUserBalance(ctx context.Context, onChainID uint64, address string) int64
}

// PayoutVerifier checks a payout hash against the withdrawal it claims to
// settle. Only PayoutConfirmed and PayoutReverted may settle a withdrawal.
type PayoutVerifier interface {
	VerifyPayout(ctx context.Context, claim entities.PayoutClaim) (entities.PayoutOutcome, error)
}
