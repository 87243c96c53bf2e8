package entities

import (
	"time"

	"github.com/google/uuid"
)

// CircleStatus is the lifecycle state of a savings circle
type CircleStatus int

const (
	CircleStatusActive CircleStatus = 0
	CircleStatusEnded  CircleStatus = 1
	CircleStatusClosed CircleStatus = 2
)

// IsValid reports whether s is a known status value
func (s CircleStatus) IsValid() bool {
	return s >= CircleStatusActive && s <= CircleStatusClosed
}

// CanTransitionTo reports whether the status may move to next. Status only
// moves forward and Closed is terminal.
func (s CircleStatus) CanTransitionTo(next CircleStatus) bool {
	return next.IsValid() && next > s
}

func (s CircleStatus) String() string {
	switch s {
	case CircleStatusActive:
		return "ACTIVE"
	case CircleStatusEnded:
		return "ENDED"
	case CircleStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Circle represents a savings group mirrored from the chain
type Circle struct {
	ID         uuid.UUID    `json:"id"`
	OnChainID  *uint64      `json:"onChainId,omitempty"`
	Name       string       `json:"name"`
	CreatorID  uuid.UUID    `json:"creatorId"`
	StartCycle int64        `json:"startCycle"`
	EndCycle   int64        `json:"endCycle"`
	Status     CircleStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`

	// Joins
	Creator          *UserSummary `json:"creator,omitempty"`
	Vault            *Vault       `json:"vault,omitempty"`
	ContributorCount int64        `json:"contributorCount"`
}

// HasEnded reports whether the cycle end has elapsed at now
func (c *Circle) HasEnded(now time.Time) bool {
	return now.Unix() >= c.EndCycle
}

// Vault is the pooled-funds record of exactly one circle
type Vault struct {
	CircleID     uuid.UUID `json:"circleId"`
	CreatedAt    int64     `json:"createdAt"`
	TotalBalance int64     `json:"totalBalance"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateCircleInput is the engine input for registering a confirmed on-chain circle
type CreateCircleInput struct {
	OnChainID       uint64
	Name            string
	CreatorID       uuid.UUID
	StartCycle      int64
	EndCycle        int64
	VaultCreatedAt  int64
	TransactionHash string
}

// CircleFilter narrows circle listings
type CircleFilter struct {
	CreatorID     *uuid.UUID
	ParticipantID *uuid.UUID
	Status        *CircleStatus
	Limit         int
	Offset        int
}

// BalanceSnapshot compares the vault aggregate with the contributor rows
type BalanceSnapshot struct {
	CircleID        uuid.UUID `json:"circleId"`
	VaultBalance    int64     `json:"vaultBalance"`
	ContributorSum  int64     `json:"contributorSum"`
	ContributorRows int64     `json:"contributorRows"`
}

// Consistent reports whether the vault total matches the contributor sum
func (s *BalanceSnapshot) Consistent() bool {
	return s.VaultBalance == s.ContributorSum
}
