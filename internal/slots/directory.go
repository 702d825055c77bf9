// Package slots is the catalogue of bookable time slots and the only
// place that changes a slot's booked count.
package slots

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/metrics"
	"github.com/iliyamo/amenity-booking/internal/model"
)

// Query narrows a slot listing.  From is inclusive and To exclusive,
// both compared against the slot start.
type Query struct {
	BranchID    uint64
	BenefitType model.BenefitType
	From        time.Time
	To          time.Time
	OnlyActive  bool
}

// Cursor is the keyset position of the last slot of a page.
type Cursor struct {
	StartsAt time.Time
	ID       uint64
}

// Store is the persistence contract of the directory.  IncrementBooked
// and DecrementBooked must be single conditional updates: they report
// false, without error, when the guard did not hold.
type Store interface {
	GetSlot(ctx context.Context, id uint64) (model.Slot, error)
	IncrementBooked(ctx context.Context, id uint64) (bool, error)
	DecrementBooked(ctx context.Context, id uint64) (bool, error)
	ListSlots(ctx context.Context, q Query, after *Cursor, limit int) ([]model.Slot, error)
	CreateSlots(ctx context.Context, slots []model.Slot) (int, error)
	SetActive(ctx context.Context, id uint64, active bool) error
}

// DefaultPageSize is the number of slots fetched per storage round trip
// while iterating ListAvailable.
const DefaultPageSize = 100

type Directory struct {
	store    Store
	log      *zap.Logger
	pageSize int
}

func NewDirectory(store Store, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{store: store, log: log, pageSize: DefaultPageSize}
}

// Get loads a slot.  When branchID is non-zero a slot of another branch
// is reported as not found.
func (d *Directory) Get(ctx context.Context, slotID, branchID uint64) (model.Slot, error) {
	s, err := d.store.GetSlot(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	if branchID != 0 && s.BranchID != branchID {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return s, nil
}

// ReserveSeat takes one seat of the slot.  The increment only happens
// when the slot is active and below capacity; otherwise the slot is
// re-read to tell the caller why.
func (d *Directory) ReserveSeat(ctx context.Context, slotID uint64) error {
	ok, err := d.store.IncrementBooked(ctx, slotID)
	if err != nil {
		return fmt.Errorf("reserve seat: %w", err)
	}
	if ok {
		return nil
	}
	s, err := d.store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !s.IsActive {
		return model.ErrSlotInactive
	}
	return model.ErrSlotFull
}

// ReleaseSeat gives one seat back.  A release against a slot with no
// booked seats means the counters drifted; it is reported as a
// consistency fault and nothing is changed.
func (d *Directory) ReleaseSeat(ctx context.Context, slotID uint64) error {
	ok, err := d.store.DecrementBooked(ctx, slotID)
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := d.store.GetSlot(ctx, slotID); err != nil {
		return err
	}
	fault := &model.ConsistencyFault{Op: "release_seat", Entity: "slot", ID: slotID, Detail: "booked_count already zero"}
	metrics.RecordConsistencyFault(fault.Op)
	d.log.Error("seat release underflow", zap.Uint64("slot_id", slotID), zap.Error(fault))
	return fault
}

// ListAvailable lazily walks active slots of q that have not started at
// now and still have a free seat.  Storage is paged; iteration stops at
// the first error, which is yielded once.
func (d *Directory) ListAvailable(ctx context.Context, q Query, now time.Time) iter.Seq2[model.Slot, error] {
	q.OnlyActive = true
	if q.From.Before(now) {
		q.From = now
	}
	return func(yield func(model.Slot, error) bool) {
		var cursor *Cursor
		for {
			page, err := d.store.ListSlots(ctx, q, cursor, d.pageSize)
			if err != nil {
				yield(model.Slot{}, err)
				return
			}
			for _, s := range page {
				if s.HasStarted(now) || s.Remaining() == 0 {
					continue
				}
				if !yield(s, nil) {
					return
				}
			}
			if len(page) < d.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &Cursor{StartsAt: last.StartsAt, ID: last.ID}
		}
	}
}

// SetActive opens or closes a slot for new bookings.  Existing bookings
// are not touched.
func (d *Directory) SetActive(ctx context.Context, slotID, branchID uint64, active bool) (model.Slot, error) {
	if _, err := d.Get(ctx, slotID, branchID); err != nil {
		return model.Slot{}, err
	}
	if err := d.store.SetActive(ctx, slotID, active); err != nil {
		return model.Slot{}, err
	}
	return d.store.GetSlot(ctx, slotID)
}

// Generate builds the slots of one branch-local day from the operating
// hours, slot duration, buffer and default capacity of s, and stores the
// ones that do not exist yet.  It returns the number of new slots.
func (d *Directory) Generate(ctx context.Context, date string, s model.BenefitSettings) (int, error) {
	built, err := Build(date, s)
	if err != nil {
		return 0, err
	}
	if len(built) == 0 {
		return 0, nil
	}
	n, err := d.store.CreateSlots(ctx, built)
	if err != nil {
		return 0, fmt.Errorf("create slots: %w", err)
	}
	d.log.Info("slots generated",
		zap.Uint64("branch_id", s.BranchID),
		zap.String("benefit_type", string(s.BenefitType)),
		zap.String("date", date),
		zap.Int("built", len(built)),
		zap.Int("created", n))
	return n, nil
}

// Build lays out the slots of a day without storing them.
func Build(date string, s model.BenefitSettings) ([]model.Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, errors.Join(model.ErrInvalidInput, fmt.Errorf("invalid date %q", date))
	}
	open, _ := model.ParseClock(s.OpensAt)
	closeAt, _ := model.ParseClock(s.ClosesAt)
	dur, step := s.SlotDuration(), s.SlotDuration()+s.Buffer()

	var out []model.Slot
	for off := open; off+dur <= closeAt; off += step {
		start := wallClock(day, off, loc)
		out = append(out, model.Slot{
			BranchID:    s.BranchID,
			BenefitType: s.BenefitType,
			Date:        date,
			StartsAt:    start.UTC(),
			EndsAt:      start.Add(dur).UTC(),
			Capacity:    s.DefaultCapacity,
			IsActive:    true,
		})
	}
	return out, nil
}

// wallClock returns the instant at offset off past midnight of day in loc,
// counted on the wall clock so DST shifts keep slots on their local hour.
func wallClock(day time.Time, off time.Duration, loc *time.Location) time.Time {
	h := int(off / time.Hour)
	m := int((off % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
}
