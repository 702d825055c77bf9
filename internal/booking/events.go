package booking

import (
	"context"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// Event types published after a lifecycle change commits.
const (
	EventBooked          = "booking.created"
	EventCancelled       = "booking.cancelled"
	EventCheckedIn       = "booking.checked_in"
	EventNoShow          = "booking.no_show"
	EventPenaltyRecorded = "penalty.recorded"
)

// Event describes one committed lifecycle change.
type Event struct {
	Type       string
	Booking    model.Booking
	Slot       model.Slot
	Outcome    *model.CancellationOutcome
	Penalty    *model.Penalty
	OccurredAt time.Time
}

// EventPublisher delivers events to downstream consumers.  Delivery is
// best effort: a failed publish never undoes the committed change.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
