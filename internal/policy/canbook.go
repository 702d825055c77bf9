package policy

import (
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// ActiveBooking is the slice of a member's existing booking that the
// booking rules need: which slot it holds and when that slot runs.
type ActiveBooking struct {
	BookingID   uint64
	SlotID      uint64
	BenefitType model.BenefitType
	Date        string
	StartsAt    time.Time
	EndsAt      time.Time
}

// BookingRequest bundles the inputs to CanBook.
type BookingRequest struct {
	Now      time.Time
	Slot     model.Slot
	Settings model.BenefitSettings
	Existing []ActiveBooking // member's bookings that still hold a seat
}

// CanBook applies the booking window, the per-day limit and the buffer
// rule.  Checks run in that order and the first failure is returned.
//
// Only bookings of the same benefit type count toward the daily limit and
// the buffer rule.
func CanBook(req BookingRequest) error {
	slot, s := req.Slot, req.Settings
	opens := slot.StartsAt.Add(-s.BookingOpensBefore())
	if req.Now.Before(opens) || slot.HasStarted(req.Now) {
		return model.ErrBookingWindowClosed
	}

	sameDay := 0
	for _, b := range req.Existing {
		if b.BenefitType != slot.BenefitType {
			continue
		}
		if b.Date == slot.Date {
			sameDay++
		}
	}
	if s.MaxBookingsPerDay > 0 && sameDay >= s.MaxBookingsPerDay {
		return model.ErrDailyLimitExceeded
	}

	buf := s.Buffer()
	for _, b := range req.Existing {
		if b.BenefitType != slot.BenefitType || b.SlotID == slot.ID {
			continue
		}
		if Overlaps(b.StartsAt.Add(-buf), b.EndsAt.Add(buf), slot.StartsAt, slot.EndsAt) {
			return model.ErrBufferConflict
		}
	}
	return nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.  CanBook pads the existing booking by the
// buffer on both ends, so sessions need at least one buffer between them.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CheckInAllowed reports whether a check-in at now falls inside
// [start - grace, end].
func CheckInAllowed(now time.Time, slot model.Slot, grace time.Duration) bool {
	return !now.Before(slot.StartsAt.Add(-grace)) && !now.After(slot.EndsAt)
}

// NoShowDue reports whether a booking for slot may be marked as a no-show
// at now, i.e. strictly after start + grace.
func NoShowDue(now time.Time, slot model.Slot, grace time.Duration) bool {
	return now.After(slot.StartsAt.Add(grace))
}

// CancelAllowed reports whether a booking may still be cancelled at now.
func CancelAllowed(now time.Time, slot model.Slot) bool {
	return now.Before(slot.EndsAt)
}
