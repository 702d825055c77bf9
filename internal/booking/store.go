package booking

import (
	"context"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/policy"
)

// Transactor runs fn inside one storage transaction.  Calls nested in an
// existing transaction join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingStore persists bookings.  TransitionBooking is a compare-and-set
// on the status: it reports false, without error, when the booking is no
// longer in the expected status.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id uint64) (model.Booking, error)
	FindByIdempotencyKey(ctx context.Context, memberID uint64, key string) (*model.Booking, error)
	TransitionBooking(ctx context.Context, id uint64, from model.BookingStatus, to model.BookingState, reason *string) (bool, error)
	ListMemberBookings(ctx context.Context, memberID uint64, statuses []model.BookingStatus) ([]model.Booking, error)
	ActiveMemberBookings(ctx context.Context, memberID uint64, from, to time.Time) ([]policy.ActiveBooking, error)
	HasActiveBooking(ctx context.Context, memberID, slotID uint64) (bool, error)
	DueNoShows(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
}

// SettingsStore serves benefit settings snapshots.
type SettingsStore interface {
	GetSettings(ctx context.Context, branchID uint64, benefit model.BenefitType) (model.BenefitSettings, error)
	UpsertSettings(ctx context.Context, s model.BenefitSettings) error
}

// PenaltyStore records monetary penalties for external billing.
type PenaltyStore interface {
	RecordPenalty(ctx context.Context, p *model.Penalty) error
}
