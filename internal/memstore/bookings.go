package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/policy"
)

func cloneBooking(b *model.Booking) model.Booking {
	cp := *b
	cp.Debits = slices.Clone(b.Debits)
	return cp
}

// CreateBooking stores b and assigns its ID.  A member can hold at most
// one seat-holding booking per slot, and an idempotency key at most once.
func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	ak := activeKey{memberID: b.MemberID, slotID: b.SlotID}
	if _, ok := s.active[ak]; ok {
		return model.ErrAlreadyBooked
	}
	ik := idemKey{memberID: b.MemberID, key: b.IdempotencyKey}
	if b.IdempotencyKey != "" {
		if _, ok := s.byIdem[ik]; ok {
			return model.ErrIdempotencyConflict
		}
	}
	s.nextBooking++
	b.ID = s.nextBooking
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	cp := cloneBooking(b)
	s.bookings[b.ID] = &cp
	s.active[ak] = b.ID
	if b.IdempotencyKey != "" {
		s.byIdem[ik] = b.ID
	}
	id := b.ID
	onRollback(ctx, func() {
		s.bookingsMu.Lock()
		defer s.bookingsMu.Unlock()
		delete(s.bookings, id)
		if s.active[ak] == id {
			delete(s.active, ak)
		}
		if s.byIdem[ik] == id {
			delete(s.byIdem, ik)
		}
	})
	return nil
}

func (s *Store) GetBooking(_ context.Context, id uint64) (model.Booking, error) {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, model.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, memberID uint64, key string) (*model.Booking, error) {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	id, ok := s.byIdem[idemKey{memberID: memberID, key: key}]
	if !ok {
		return nil, nil
	}
	b := cloneBooking(s.bookings[id])
	return &b, nil
}

// TransitionBooking moves the booking from status from to state to.  It
// reports false when the booking is no longer in from.
func (s *Store) TransitionBooking(ctx context.Context, id uint64, from model.BookingStatus, to model.BookingState, reason *string) (bool, error) {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, model.ErrBookingNotFound
	}
	if b.Status() != from {
		return false, nil
	}
	prevState, prevReason := b.State, b.CancellationReason
	b.State = to
	if reason != nil {
		r := *reason
		b.CancellationReason = &r
	}
	ak := activeKey{memberID: b.MemberID, slotID: b.SlotID}
	wasActive := s.active[ak] == id
	if !b.HoldsSeat() && wasActive {
		delete(s.active, ak)
	}
	onRollback(ctx, func() {
		s.bookingsMu.Lock()
		defer s.bookingsMu.Unlock()
		if b, ok := s.bookings[id]; ok && b.State == to {
			b.State, b.CancellationReason = prevState, prevReason
			if wasActive {
				s.active[ak] = id
			}
		}
	})
	return true, nil
}

func (s *Store) ListMemberBookings(_ context.Context, memberID uint64, statuses []model.BookingStatus) ([]model.Booking, error) {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.MemberID != memberID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, b.Status()) {
			continue
		}
		out = append(out, cloneBooking(b))
	}
	slices.SortFunc(out, func(a, b model.Booking) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// ActiveMemberBookings returns the member's seat-holding bookings whose
// slot starts in [from, to).
func (s *Store) ActiveMemberBookings(_ context.Context, memberID uint64, from, to time.Time) ([]policy.ActiveBooking, error) {
	s.bookingsMu.Lock()
	var held []model.Booking
	for _, b := range s.bookings {
		if b.MemberID == memberID && b.HoldsSeat() {
			held = append(held, cloneBooking(b))
		}
	}
	s.bookingsMu.Unlock()

	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	var out []policy.ActiveBooking
	for _, b := range held {
		sl, ok := s.slots[b.SlotID]
		if !ok || sl.StartsAt.Before(from) || !sl.StartsAt.Before(to) {
			continue
		}
		out = append(out, policy.ActiveBooking{
			BookingID:   b.ID,
			SlotID:      sl.ID,
			BenefitType: sl.BenefitType,
			Date:        sl.Date,
			StartsAt:    sl.StartsAt,
			EndsAt:      sl.EndsAt,
		})
	}
	return out, nil
}

func (s *Store) HasActiveBooking(_ context.Context, memberID, slotID uint64) (bool, error) {
	s.bookingsMu.Lock()
	defer s.bookingsMu.Unlock()
	_, ok := s.active[activeKey{memberID: memberID, slotID: slotID}]
	return ok, nil
}

// DueNoShows lists booked bookings whose slot started before cutoff,
// oldest slot first.
func (s *Store) DueNoShows(_ context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	s.bookingsMu.Lock()
	var booked []model.Booking
	for _, b := range s.bookings {
		if b.Status() == model.StatusBooked {
			booked = append(booked, cloneBooking(b))
		}
	}
	s.bookingsMu.Unlock()

	s.slotsMu.Lock()
	type due struct {
		id    uint64
		start time.Time
	}
	var ds []due
	for _, b := range booked {
		if sl, ok := s.slots[b.SlotID]; ok && sl.StartsAt.Before(cutoff) {
			ds = append(ds, due{id: b.ID, start: sl.StartsAt})
		}
	}
	s.slotsMu.Unlock()

	slices.SortFunc(ds, func(a, b due) int {
		if c := a.start.Compare(b.start); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if limit > 0 && len(ds) > limit {
		ds = ds[:limit]
	}
	ids := make([]uint64, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.id)
	}
	return ids, nil
}
