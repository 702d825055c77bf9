package model

import (
	"errors"
	"fmt"
)

// Booking outcomes callers can recover from.  Compare with errors.Is.
var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotFull            = errors.New("slot full")
	ErrSlotInactive        = errors.New("slot inactive")
	ErrAlreadyBooked       = errors.New("already booked")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBookingWindowClosed = errors.New("booking window closed")
	ErrDailyLimitExceeded  = errors.New("daily booking limit exceeded")
	ErrBufferConflict      = errors.New("buffer conflict with another booking")
	ErrInvalidTransition   = errors.New("invalid booking transition")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrSettingsNotFound    = errors.New("benefit settings not found")
	ErrGrantNotFound       = errors.New("credit grant not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("forbidden")
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different slot")
)

// ErrConflict signals that a conditional update lost a race with another
// writer.  Nothing was changed; the whole operation may be retried.
var ErrConflict = errors.New("concurrent update conflict")

// ErrInternalConsistency marks a violated invariant.  It is never a user
// error: the operation is aborted and the fault must reach an operator.
var ErrInternalConsistency = errors.New("internal consistency fault")

// ConsistencyFault carries the details of an invariant violation.  It
// matches ErrInternalConsistency under errors.Is.
type ConsistencyFault struct {
	Op     string
	Entity string
	ID     uint64
	Detail string
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("internal consistency fault: %s %s %d: %s", f.Op, f.Entity, f.ID, f.Detail)
}

func (f *ConsistencyFault) Is(target error) bool { return target == ErrInternalConsistency }
