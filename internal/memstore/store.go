package memstore

import (
	"sync"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

type settingsKey struct {
	branchID uint64
	benefit  model.BenefitType
}

type idemKey struct {
	memberID uint64
	key      string
}

type activeKey struct {
	memberID uint64
	slotID   uint64
}

// Store is an in-memory implementation of every storage contract used by
// the booking engine.  The zero value is not usable; call New.
type Store struct {
	slotsMu  sync.Mutex
	slots    map[uint64]*model.Slot
	nextSlot uint64

	grantsMu  sync.Mutex
	grants    map[uint64]*model.CreditGrant
	nextGrant uint64

	bookingsMu  sync.Mutex
	bookings    map[uint64]*model.Booking
	byIdem      map[idemKey]uint64
	active      map[activeKey]uint64
	nextBooking uint64

	settingsMu sync.Mutex
	settings   map[settingsKey]model.BenefitSettings

	penaltiesMu sync.Mutex
	penalties   []model.Penalty
	nextPenalty uint64

	now func() time.Time
}

// New returns an empty store.  now stamps created_at style columns; nil
// uses the wall clock.
func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		slots:    make(map[uint64]*model.Slot),
		grants:   make(map[uint64]*model.CreditGrant),
		bookings: make(map[uint64]*model.Booking),
		byIdem:   make(map[idemKey]uint64),
		active:   make(map[activeKey]uint64),
		settings: make(map[settingsKey]model.BenefitSettings),
		now:      now,
	}
}
