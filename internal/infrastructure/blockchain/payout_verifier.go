package blockchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"circlesave.backend/internal/domain/entities"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// TxSource looks up transactions and their receipts
type TxSource interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	GetTransactionSender(ctx context.Context, txHash string) (*types.Transaction, common.Address, error)
}

// BalanceReader reads a member's on-chain balance in a circle
type BalanceReader interface {
	GetUserBalance(ctx context.Context, onChainID uint64, address string) int64
}

// PayoutVerifier decides whether a transaction hash is the payout of a
// given withdrawal. A hash only counts when it is a withdraw call on the
// circle contract, sent by the withdrawal wallet, for the same circle and
// amount.
type PayoutVerifier struct {
	txs      TxSource
	balances BalanceReader
	contract common.Address
}

// NewPayoutVerifier creates a new payout verifier
func NewPayoutVerifier(txs TxSource, balances BalanceReader, contractAddress string) *PayoutVerifier {
	return &PayoutVerifier{
		txs:      txs,
		balances: balances,
		contract: common.HexToAddress(contractAddress),
	}
}

// VerifyPayout resolves the claim to pending, confirmed, reverted or
// rejected. Lookup failures are returned as errors and never settle
// anything.
func (v *PayoutVerifier) VerifyPayout(ctx context.Context, claim entities.PayoutClaim) (entities.PayoutOutcome, error) {
	outcome, err := v.verify(ctx, claim)
	result := outcome.String()
	if err != nil {
		result = "error"
	}
	metrics.OracleCalls.WithLabelValues("verify_payout", result).Inc()
	return outcome, err
}

func (v *PayoutVerifier) verify(ctx context.Context, claim entities.PayoutClaim) (entities.PayoutOutcome, error) {
	receipt, err := v.txs.GetTransactionReceipt(ctx, claim.TxHash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return entities.PayoutPending, nil
	}
	if err != nil {
		return entities.PayoutPending, fmt.Errorf("receipt %s: %w", claim.TxHash, err)
	}

	tx, from, err := v.txs.GetTransactionSender(ctx, claim.TxHash)
	if err != nil {
		return entities.PayoutPending, fmt.Errorf("transaction %s: %w", claim.TxHash, err)
	}
	if reason := v.callMismatch(tx, from, claim); reason != "" {
		return v.reject(ctx, claim, reason), nil
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		if reason := v.logMismatch(receipt, claim); reason != "" {
			return v.reject(ctx, claim, reason), nil
		}
		return entities.PayoutConfirmed, nil
	}

	// the chain must still hold the reserved amount for a revert to release it
	onChain := v.balances.GetUserBalance(ctx, claim.OnChainID, claim.WalletAddress)
	if onChain < claim.LedgerBalance+claim.Amount {
		return v.reject(ctx, claim, fmt.Sprintf("on-chain balance %d does not cover the reserved payout", onChain)), nil
	}
	return entities.PayoutReverted, nil
}

func (v *PayoutVerifier) callMismatch(tx *types.Transaction, from common.Address, claim entities.PayoutClaim) string {
	if tx.To() == nil || *tx.To() != v.contract {
		return "transaction is not sent to the circle contract"
	}
	if from != common.HexToAddress(claim.WalletAddress) {
		return "transaction is not sent by the withdrawal wallet"
	}

	data := tx.Data()
	if len(data) < 4 {
		return "transaction is not a withdraw call"
	}
	method, err := circleABI.MethodById(data[:4])
	if err != nil || method.Name != methodWithdraw {
		return "transaction is not a withdraw call"
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return "withdraw call cannot be decoded"
	}
	circleID, okCircle := args[0].(uint64)
	amount, okAmount := args[1].(uint64)
	if !okCircle || !okAmount || circleID != claim.OnChainID || amount != uint64(claim.Amount) {
		return "withdraw call is for another circle or amount"
	}
	return ""
}

func (v *PayoutVerifier) logMismatch(receipt *types.Receipt, claim entities.PayoutClaim) string {
	event := circleABI.Events[eventWithdrawn]
	wallet := common.HexToAddress(claim.WalletAddress)
	for _, l := range receipt.Logs {
		if l == nil || l.Address != v.contract || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		if l.Topics[1].Big().Uint64() != claim.OnChainID || !bytes.Equal(l.Topics[2].Bytes()[12:], wallet.Bytes()) {
			continue
		}
		values, err := circleABI.Unpack(eventWithdrawn, l.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		if amount, ok := values[0].(uint64); ok && amount == uint64(claim.Amount) {
			return ""
		}
	}
	return "receipt carries no matching Withdrawn event"
}

func (v *PayoutVerifier) reject(ctx context.Context, claim entities.PayoutClaim, reason string) entities.PayoutOutcome {
	logger.Warn(ctx, "Payout hash rejected",
		zap.String("tx_hash", claim.TxHash),
		zap.Uint64("on_chain_id", claim.OnChainID),
		zap.String("wallet_address", claim.WalletAddress),
		zap.String("reason", reason),
	)
	return entities.PayoutRejected
}
