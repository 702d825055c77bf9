package model

import "time"

// CancellationOutcome is the policy decision for a cancellation or a
// no-show.  The seat is always released; the outcome only decides what
// happens to the credit and whether a penalty is recorded.
type CancellationOutcome struct {
	Late         bool  // decided after the cancellation deadline
	RefundCredit bool  // consumed credit goes back to the member
	PenaltyCents int64 // amount recorded for external billing, 0 for none
}

// Free reports whether the outcome carries no consequence for the member.
func (o CancellationOutcome) Free() bool { return o.RefundCredit && o.PenaltyCents == 0 }

// Penalty is a monetary charge recorded for external billing.
type Penalty struct {
	ID          uint64
	BookingID   uint64
	MemberID    uint64
	BranchID    uint64
	AmountCents int64
	Reason      string // late_cancellation | no_show
	CreatedAt   time.Time
}

const (
	PenaltyLateCancellation = "late_cancellation"
	PenaltyNoShow           = "no_show"
)
