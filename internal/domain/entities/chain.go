package entities

// ChainCircleInfo is the authoritative circle metadata read from the chain
type ChainCircleInfo struct {
	OnChainID    uint64
	Name         string
	Creator      string
	StartCycle   int64
	EndCycle     int64
	TotalBalance int64
	Status       CircleStatus
}

// PayoutOutcome is what the chain proves about a withdrawal's payout hash
type PayoutOutcome int

const (
	// PayoutPending means the transaction is not mined yet
	PayoutPending PayoutOutcome = iota
	// PayoutConfirmed means the hash is this withdrawal's successful payout
	PayoutConfirmed
	// PayoutReverted means this withdrawal's payout reverted and the chain
	// still holds the reserved funds
	PayoutReverted
	// PayoutRejected means the hash does not prove anything about the payout
	PayoutRejected
)

func (o PayoutOutcome) String() string {
	switch o {
	case PayoutConfirmed:
		return "confirmed"
	case PayoutReverted:
		return "reverted"
	case PayoutRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// PayoutClaim binds a payout hash to the withdrawal it should settle
type PayoutClaim struct {
	TxHash        string
	OnChainID     uint64
	WalletAddress string
	Amount        int64
	// LedgerBalance is the contributor balance with the payout reserved
	LedgerBalance int64
}

// NewPayoutClaim builds the claim that w's payout hash settles it
func NewPayoutClaim(w *Withdrawal, onChainID uint64, ledgerBalance int64) PayoutClaim {
	return PayoutClaim{
		TxHash:        w.TransactionHash.String,
		OnChainID:     onChainID,
		WalletAddress: w.WalletAddress,
		Amount:        w.Amount,
		LedgerBalance: ledgerBalance,
	}
}
