// Package queue holds the message payloads published on the booking events
// exchange and the audit consumer that records them.
package queue

// BookingEvent is the JSON body of every message on the events exchange.
// The routing key equals Type.
type BookingEvent struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	OccurredAt   string `json:"occurred_at"`
	BookingID    uint64 `json:"booking_id"`
	MemberID     uint64 `json:"member_id"`
	BranchID     uint64 `json:"branch_id"`
	SlotID       uint64 `json:"slot_id"`
	BenefitType  string `json:"benefit_type"`
	Status       string `json:"status"`
	SlotStartsAt string `json:"slot_starts_at,omitempty"`
	SlotEndsAt   string `json:"slot_ends_at,omitempty"`
	Credits      uint32 `json:"credits"`

	Late          *bool  `json:"late,omitempty"`
	RefundCredit  *bool  `json:"refund_credit,omitempty"`
	PenaltyCents  int64  `json:"penalty_cents,omitempty"`
	PenaltyReason string `json:"penalty_reason,omitempty"`
}
