package booking

import (
	"errors"

	"github.com/iliyamo/amenity-booking/internal/model"
)

var codes = []struct {
	err  error
	code string
}{
	{model.ErrSlotNotFound, "slot_not_found"},
	{model.ErrSlotFull, "slot_full"},
	{model.ErrSlotInactive, "slot_inactive"},
	{model.ErrAlreadyBooked, "already_booked"},
	{model.ErrInsufficientCredits, "insufficient_credits"},
	{model.ErrBookingWindowClosed, "booking_window_closed"},
	{model.ErrDailyLimitExceeded, "daily_limit_exceeded"},
	{model.ErrBufferConflict, "buffer_conflict"},
	{model.ErrInvalidTransition, "invalid_transition"},
	{model.ErrInternalConsistency, "internal_consistency_fault"},
	{model.ErrBookingNotFound, "booking_not_found"},
	{model.ErrSettingsNotFound, "settings_not_found"},
	{model.ErrGrantNotFound, "grant_not_found"},
	{model.ErrIdempotencyConflict, "idempotency_conflict"},
	{model.ErrInvalidInput, "invalid_input"},
	{model.ErrForbidden, "forbidden"},
	{model.ErrConflict, "conflict"},
}

// ErrorCode returns a stable snake_case code for err, "ok" for nil and
// "internal" for anything outside the booking taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
