package blockchain

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CircleContractABI covers the view functions of the circle savings contract
// and the member payout call the confirmation flow checks receipts against.
const CircleContractABI = `[
	{"type":"function","name":"getCircleInfo","stateMutability":"view",
	 "inputs":[{"name":"circleId","type":"uint64"}],
	 "outputs":[
		{"name":"name","type":"string"},
		{"name":"creator","type":"address"},
		{"name":"startCycle","type":"uint64"},
		{"name":"endCycle","type":"uint64"},
		{"name":"totalBalance","type":"uint64"},
		{"name":"status","type":"uint8"}]},
	{"type":"function","name":"getUserBalance","stateMutability":"view",
	 "inputs":[{"name":"circleId","type":"uint64"},{"name":"user","type":"address"}],
	 "outputs":[{"name":"balance","type":"uint64"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"circleId","type":"uint64"},{"name":"amount","type":"uint64"}],
	 "outputs":[]},
	{"type":"event","name":"Withdrawn","anonymous":false,
	 "inputs":[
		{"name":"circleId","type":"uint64","indexed":true},
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint64","indexed":false}]},
	{"type":"error","name":"CircleNotFound",
	 "inputs":[{"name":"circleId","type":"uint64"}]}
]`

const (
	methodGetCircleInfo  = "getCircleInfo"
	methodGetUserBalance = "getUserBalance"
	methodWithdraw       = "withdraw"
	eventWithdrawn       = "Withdrawn"
)

var circleABI = mustParseABI(CircleContractABI)

// sleepFn is swapped in tests to skip backoff waits
var sleepFn = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ViewCaller executes read-only contract calls
type ViewCaller interface {
	CallView(ctx context.Context, to string, data []byte) ([]byte, error)
}

// OracleConfig tunes pacing and retries of contract reads
type OracleConfig struct {
	ContractAddress string
	CallTimeout     time.Duration
	RateLimit       rate.Limit
	RateBurst       int
	MaxRetries      int
	RetryBackoff    time.Duration
}

// CircleOracle reads circle metadata and member balances from the contract.
// It never writes to the chain.
type CircleOracle struct {
	caller      ViewCaller
	config      OracleConfig
	rateLimiter *rate.Limiter
}

// NewCircleOracle creates a new circle oracle
func NewCircleOracle(caller ViewCaller, config OracleConfig) *CircleOracle {
	if config.RateLimit <= 0 {
		config.RateLimit = rate.Inf
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &CircleOracle{
		caller:      caller,
		config:      config,
		rateLimiter: rate.NewLimiter(config.RateLimit, config.RateBurst),
	}
}

// GetCircleInfo reads the authoritative circle record. Reads are retried
// with exponential backoff; exhausted retries surface as
// ErrExternalUnavailable and an unknown circle as ErrNotFound.
func (o *CircleOracle) GetCircleInfo(ctx context.Context, onChainID uint64) (*entities.ChainCircleInfo, error) {
	var (
		out     []interface{}
		lastErr error
	)
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if err := sleepFn(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
		out, lastErr = o.call(ctx, methodGetCircleInfo, onChainID)
		if lastErr == nil {
			break
		}
		if reason, reverted := decodeRevertFromError(lastErr); reverted {
			metrics.OracleCalls.WithLabelValues(methodGetCircleInfo, "reverted").Inc()
			if reason.Name == errCircleNotFound {
				return nil, fmt.Errorf("%w: circle %d not found on chain", domainerrors.ErrNotFound, onChainID)
			}
			return nil, fmt.Errorf("read circle %d reverted: %s", onChainID, reason)
		}
		logger.Warn(ctx, "circle info read failed",
			zap.Uint64("on_chain_id", onChainID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	if lastErr != nil {
		metrics.OracleCalls.WithLabelValues(methodGetCircleInfo, "error").Inc()
		return nil, fmt.Errorf("%w: read circle %d: %v", domainerrors.ErrExternalUnavailable, onChainID, lastErr)
	}

	info, err := decodeCircleInfo(onChainID, out)
	metrics.OracleCalls.WithLabelValues(methodGetCircleInfo, metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetUserBalance reads a member's on-chain balance in the circle. Any
// failure is logged and reported as zero.
func (o *CircleOracle) GetUserBalance(ctx context.Context, onChainID uint64, address string) int64 {
	if !common.IsHexAddress(address) {
		return 0
	}

	out, err := o.call(ctx, methodGetUserBalance, onChainID, common.HexToAddress(address))
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("failed to decode %s", methodGetUserBalance)
	}
	var balance uint64
	if err == nil {
		var ok bool
		if balance, ok = out[0].(uint64); !ok || balance > math.MaxInt64 {
			err = fmt.Errorf("invalid %s return value", methodGetUserBalance)
		}
	}
	metrics.OracleCalls.WithLabelValues(methodGetUserBalance, metrics.Result(err)).Inc()
	if err != nil {
		fields := []zap.Field{
			zap.Uint64("on_chain_id", onChainID),
			zap.String("wallet_address", address),
			zap.Error(err),
		}
		if reason, reverted := decodeRevertFromError(err); reverted {
			fields = append(fields, zap.String("revert", reason.String()))
		}
		logger.Warn(ctx, "user balance read failed, reporting zero", fields...)
		return 0
	}
	return int64(balance)
}

func (o *CircleOracle) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if err := o.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	data, err := circleABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if o.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.config.CallTimeout)
		defer cancel()
	}

	raw, err := o.caller.CallView(callCtx, o.config.ContractAddress, data)
	if err != nil {
		return nil, err
	}
	return circleABI.Unpack(method, raw)
}

func decodeCircleInfo(onChainID uint64, out []interface{}) (*entities.ChainCircleInfo, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("%w: failed to decode %s", domainerrors.ErrExternalUnavailable, methodGetCircleInfo)
	}

	name, okName := out[0].(string)
	creator, okCreator := out[1].(common.Address)
	startCycle, okStart := out[2].(uint64)
	endCycle, okEnd := out[3].(uint64)
	totalBalance, okBalance := out[4].(uint64)
	status, okStatus := out[5].(uint8)
	if !okName || !okCreator || !okStart || !okEnd || !okBalance || !okStatus {
		return nil, fmt.Errorf("%w: invalid %s return type", domainerrors.ErrExternalUnavailable, methodGetCircleInfo)
	}

	// the contract answers unknown ids with a zero-valued record
	if creator == (common.Address{}) && strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: circle %d not found on chain", domainerrors.ErrNotFound, onChainID)
	}
	if startCycle > math.MaxInt64 || endCycle > math.MaxInt64 || totalBalance > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %s value out of range", domainerrors.ErrExternalUnavailable, methodGetCircleInfo)
	}

	circleStatus := entities.CircleStatus(status)
	if !circleStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown circle status %d", domainerrors.ErrExternalUnavailable, status)
	}

	return &entities.ChainCircleInfo{
		OnChainID:    onChainID,
		Name:         name,
		Creator:      creator.Hex(),
		StartCycle:   int64(startCycle),
		EndCycle:     int64(endCycle),
		TotalBalance: int64(totalBalance),
		Status:       circleStatus,
	}, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
