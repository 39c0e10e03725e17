package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the lifecycle state of a payout.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutSucceeded  PayoutStatus = "succeeded"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout records a single payment dispatch to a user.
type Payout struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Channel        string          `json:"channel,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Status         PayoutStatus    `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// validPayoutTransitions lists the permitted status moves.
var validPayoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending: {
		PayoutProcessing,
		PayoutFailed,
	},
	PayoutProcessing: {
		PayoutProcessing,
		PayoutSucceeded,
		PayoutFailed,
	},
}

// IsTerminal reports whether no further transition is possible.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutSucceeded || s == PayoutFailed
}

// CanTransition reports whether moving from one status to another is valid.
// processing -> processing happens when routing falls through to the next channel.
func CanTransition(from, to PayoutStatus) bool {
	allowed, ok := validPayoutTransitions[from]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}

	return false
}

// SourcesOf lists the statuses from which to can be reached.
func SourcesOf(to PayoutStatus) []PayoutStatus {
	var sources []PayoutStatus
	for _, from := range []PayoutStatus{PayoutPending, PayoutProcessing, PayoutSucceeded, PayoutFailed} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
