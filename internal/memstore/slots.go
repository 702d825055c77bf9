package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

// AddSlot stores s as-is and returns it with an ID assigned.
func (s *Store) AddSlot(slot model.Slot) model.Slot {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	s.nextSlot++
	slot.ID = s.nextSlot
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = s.now()
		slot.UpdatedAt = slot.CreatedAt
	}
	cp := slot
	s.slots[slot.ID] = &cp
	return slot
}

func (s *Store) GetSlot(_ context.Context, id uint64) (model.Slot, error) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return *sl, nil
}

func (s *Store) IncrementBooked(ctx context.Context, id uint64) (bool, error) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	sl, ok := s.slots[id]
	if !ok || !sl.IsActive || sl.BookedCount >= sl.Capacity {
		return false, nil
	}
	sl.BookedCount++
	onRollback(ctx, func() { s.adjustBooked(id, -1) })
	return true, nil
}

func (s *Store) DecrementBooked(ctx context.Context, id uint64) (bool, error) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	sl, ok := s.slots[id]
	if !ok || sl.BookedCount == 0 {
		return false, nil
	}
	sl.BookedCount--
	onRollback(ctx, func() { s.adjustBooked(id, 1) })
	return true, nil
}

func (s *Store) adjustBooked(id uint64, delta int) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	if sl, ok := s.slots[id]; ok {
		sl.BookedCount = uint32(int(sl.BookedCount) + delta)
	}
}

func (s *Store) ListSlots(_ context.Context, q slots.Query, after *slots.Cursor, limit int) ([]model.Slot, error) {
	s.slotsMu.Lock()
	out := make([]model.Slot, 0)
	for _, sl := range s.slots {
		if q.BranchID != 0 && sl.BranchID != q.BranchID {
			continue
		}
		if q.BenefitType != "" && sl.BenefitType != q.BenefitType {
			continue
		}
		if q.OnlyActive && !sl.IsActive {
			continue
		}
		if !q.From.IsZero() && sl.StartsAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !sl.StartsAt.Before(q.To) {
			continue
		}
		if after != nil {
			c := sl.StartsAt.Compare(after.StartsAt)
			if c < 0 || (c == 0 && sl.ID <= after.ID) {
				continue
			}
		}
		out = append(out, *sl)
	}
	s.slotsMu.Unlock()

	slices.SortFunc(out, func(a, b model.Slot) int {
		if c := a.StartsAt.Compare(b.StartsAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateSlots stores the slots that do not clash with an existing slot of
// the same branch, benefit type and start.
func (s *Store) CreateSlots(ctx context.Context, in []model.Slot) (int, error) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	var created []uint64
	for _, n := range in {
		if s.slotExistsLocked(n) {
			continue
		}
		s.nextSlot++
		n.ID = s.nextSlot
		n.BookedCount = 0
		n.CreatedAt = s.now()
		n.UpdatedAt = n.CreatedAt
		cp := n
		s.slots[n.ID] = &cp
		created = append(created, n.ID)
	}
	onRollback(ctx, func() {
		s.slotsMu.Lock()
		defer s.slotsMu.Unlock()
		for _, id := range created {
			delete(s.slots, id)
		}
	})
	return len(created), nil
}

func (s *Store) slotExistsLocked(n model.Slot) bool {
	for _, sl := range s.slots {
		if sl.BranchID == n.BranchID && sl.BenefitType == n.BenefitType && sl.StartsAt.Equal(n.StartsAt) {
			return true
		}
	}
	return false
}

func (s *Store) SetActive(ctx context.Context, id uint64, active bool) error {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return model.ErrSlotNotFound
	}
	prev := sl.IsActive
	sl.IsActive = active
	sl.UpdatedAt = s.now()
	onRollback(ctx, func() {
		s.slotsMu.Lock()
		defer s.slotsMu.Unlock()
		if sl, ok := s.slots[id]; ok {
			sl.IsActive = prev
		}
	})
	return nil
}
