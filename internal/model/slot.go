package model

import "time"

// Slot is a bookable time window for one benefit type at a branch.  The
// booked count is only ever changed through conditional updates so that
// 0 <= BookedCount <= Capacity holds at all times.
//
// Fields:
//
//	ID            – primary key identifier.
//	BranchID      – branch that owns the slot.
//	BenefitType   – normalized benefit category.
//	BenefitTypeID – optional catalogue reference carried for display only.
//	Date          – branch-local calendar date (YYYY-MM-DD).
//	StartsAt      – slot start in UTC.
//	EndsAt        – slot end in UTC.
//	Capacity      – number of seats, always positive.
//	BookedCount   – seats currently held by booked or checked-in bookings.
//	IsActive      – inactive slots cannot take new bookings.
type Slot struct {
	ID            uint64      // slots.id
	BranchID      uint64      // slots.branch_id
	BenefitType   BenefitType // slots.benefit_type
	BenefitTypeID *uint64     // slots.benefit_type_id (nullable)
	Date          string      // slots.slot_date
	StartsAt      time.Time   // slots.starts_at
	EndsAt        time.Time   // slots.ends_at
	Capacity      uint32      // slots.capacity
	BookedCount   uint32      // slots.booked_count
	IsActive      bool        // slots.is_active
	CreatedAt     time.Time   // slots.created_at
	UpdatedAt     time.Time   // slots.updated_at
}

// Remaining returns the number of free seats.
func (s Slot) Remaining() uint32 {
	if s.BookedCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.BookedCount
}

// HasStarted reports whether the slot start is at or before now.
func (s Slot) HasStarted(now time.Time) bool {
	return !now.Before(s.StartsAt)
}
