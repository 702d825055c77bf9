package model

import "time"

// BookingStatus is the lifecycle state of a booking.  Only StatusBooked
// is non-terminal.
type BookingStatus string

const (
	StatusBooked    BookingStatus = "booked"
	StatusCancelled BookingStatus = "cancelled"
	StatusCheckedIn BookingStatus = "checked_in"
	StatusNoShow    BookingStatus = "no_show"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusBooked, StatusCancelled, StatusCheckedIn, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s BookingStatus) Terminal() bool { return s != StatusBooked }

// HoldsSeat reports whether a booking in status s occupies a seat.
func (s BookingStatus) HoldsSeat() bool { return s == StatusBooked || s == StatusCheckedIn }

// BookingState is the current status together with the single timestamp
// that belongs to it.  Values can only be built through the constructors
// below, so a booking can never carry both a check-in and a no-show stamp.
type BookingState struct {
	status BookingStatus
	at     time.Time
}

func Booked(at time.Time) BookingState { return BookingState{status: StatusBooked, at: at.UTC()} }
func Cancelled(at time.Time) BookingState { return BookingState{status: StatusCancelled, at: at.UTC()} }
func CheckedIn(at time.Time) BookingState { return BookingState{status: StatusCheckedIn, at: at.UTC()} }
func NoShow(at time.Time) BookingState { return BookingState{status: StatusNoShow, at: at.UTC()} }

// StateOf rebuilds a state from its persisted form.  It returns false for
// unknown statuses.
func StateOf(status BookingStatus, at time.Time) (BookingState, bool) {
	if !status.Valid() {
		return BookingState{}, false
	}
	return BookingState{status: status, at: at.UTC()}, true
}

func (s BookingState) Status() BookingStatus { return s.status }

// At returns the timestamp of the transition into the current status.
func (s BookingState) At() time.Time { return s.at }

func (s BookingState) stamp(want BookingStatus) (time.Time, bool) {
	if s.status != want {
		return time.Time{}, false
	}
	return s.at, true
}

func (s BookingState) CancelledAt() (time.Time, bool) { return s.stamp(StatusCancelled) }
func (s BookingState) CheckedInAt() (time.Time, bool) { return s.stamp(StatusCheckedIn) }
func (s BookingState) NoShowMarkedAt() (time.Time, bool) { return s.stamp(StatusNoShow) }

// Booking records a member's claim on one seat of a slot.  Bookings are
// never deleted; terminal transitions stamp the state instead.
//
// Fields:
//
//	ID                 – primary key identifier.
//	SlotID             – slot holding the seat.
//	BranchID           – branch of the slot, copied for scoping.
//	MemberID           – member who booked.
//	MembershipID       – membership the booking was made under (nullable).
//	BenefitType        – benefit type of the slot.
//	State              – tagged lifecycle state.
//	CreatedAt          – creation timestamp.
//	CancellationReason – free-text reason supplied on cancel (nullable).
//	Notes              – member notes (nullable).
//	IdempotencyKey     – client key for safe retries of the book call.
//	Debits             – credits taken from each grant, in consumption order.
type Booking struct {
	ID                 uint64
	SlotID             uint64
	BranchID           uint64
	MemberID           uint64
	MembershipID       *uint64
	BenefitType        BenefitType
	State              BookingState
	CreatedAt          time.Time
	CancellationReason *string
	Notes              *string
	IdempotencyKey     string
	Debits             DebitTrace
}

// Status is shorthand for b.State.Status().
func (b Booking) Status() BookingStatus { return b.State.Status() }

// HoldsSeat reports whether the booking currently occupies a seat.
func (b Booking) HoldsSeat() bool { return b.Status().HoldsSeat() }
