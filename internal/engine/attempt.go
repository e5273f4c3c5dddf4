package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

type Status string

const (
	StatusPreparing             Status = "preparing"
	StatusAwaitingApproval      Status = "awaiting_approval"
	StatusAwaitingNetworkSwitch Status = "awaiting_network_switch"
	StatusSubmitted             Status = "submitted"
	StatusConfirmed             Status = "confirmed"
	StatusReverted              Status = "reverted"
	StatusFailed                Status = "failed"
)

// statusRank orders the lifecycle. Optional stages may be skipped but a
// status never moves backward; a user edit or retry replaces the attempt
// wholesale instead.
var statusRank = map[Status]int{
	StatusPreparing:             0,
	StatusAwaitingApproval:      1,
	StatusAwaitingNetworkSwitch: 2,
	StatusSubmitted:             3,
	StatusConfirmed:             4,
	StatusReverted:              4,
	StatusFailed:                4,
}

type Kind string

const (
	KindSwap     Kind = "swap"
	KindTransfer Kind = "transfer"
)

// Attempt is one execution of a swap or transfer, journaled across status
// transitions so interrupted runs remain inspectable.
type Attempt struct {
	AttemptID   string  `json:"attempt_id"`
	Kind        Kind    `json:"kind"`
	Status      Status  `json:"status"`
	Venue       string  `json:"venue,omitempty"`
	FromNetwork string  `json:"from_network"`
	ToNetwork   string  `json:"to_network"`
	FromToken   string  `json:"from_token"`
	ToToken     string  `json:"to_token"`
	Signer      string  `json:"signer"`
	Recipient   string  `json:"recipient,omitempty"`
	AmountIn    string  `json:"amount_in"`
	ExpectedOut string  `json:"expected_out,omitempty"`
	MinOut      string  `json:"min_out,omitempty"`
	SlippagePct float64 `json:"slippage_pct,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func NewAttemptID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "att_unknown"
	}
	return fmt.Sprintf("att_%s", hex.EncodeToString(b))
}

func NewAttempt(kind Kind) *Attempt {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Attempt{
		AttemptID: NewAttemptID(),
		Kind:      kind,
		Status:    StatusPreparing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Attempt) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Advance moves the attempt forward. Moving to an earlier or equal stage is
// a programming error surfaced as CodeInternal.
func (a *Attempt) Advance(next Status) error {
	from, ok := statusRank[a.Status]
	to, nextOK := statusRank[next]
	if !ok || !nextOK {
		return swaperr.New(swaperr.CodeInternal, fmt.Sprintf("unknown attempt status transition %s -> %s", a.Status, next))
	}
	if to <= from {
		return swaperr.New(swaperr.CodeInternal, fmt.Sprintf("attempt status cannot move from %s to %s", a.Status, next))
	}
	// Chain outcomes require a broadcast; only failed can short-circuit.
	if (next == StatusConfirmed || next == StatusReverted) && a.Status != StatusSubmitted {
		return swaperr.New(swaperr.CodeInternal, fmt.Sprintf("attempt cannot reach %s without being submitted", next))
	}
	a.Status = next
	a.Touch()
	return nil
}

// Terminal reports whether the attempt reached an end state.
func (a *Attempt) Terminal() bool {
	return a.Status == StatusConfirmed || a.Status == StatusReverted || a.Status == StatusFailed
}
