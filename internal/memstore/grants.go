package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

func cloneGrant(g *model.CreditGrant) model.CreditGrant {
	cp := *g
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		cp.ExpiresAt = &t
	}
	if g.ExhaustedAt != nil {
		t := *g.ExhaustedAt
		cp.ExhaustedAt = &t
	}
	return cp
}

// LockUsableGrants returns the grants of the member for benefit that
// still hold credits and have not been closed by the expiry sweep.  The
// ledger serializes callers per member and benefit type.
func (s *Store) LockUsableGrants(_ context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	now := s.now()
	var out []model.CreditGrant
	for _, g := range s.grants {
		if g.MemberID == memberID && g.BenefitType == benefit && g.Usable(now) {
			out = append(out, cloneGrant(g))
		}
	}
	slices.SortFunc(out, func(a, b model.CreditGrant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) LockGrantsByID(_ context.Context, ids []uint64) ([]model.CreditGrant, error) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	out := make([]model.CreditGrant, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.grants[id]; ok {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

func (s *Store) SetRemaining(ctx context.Context, grantID uint64, expected, remaining uint32) (bool, error) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || g.CreditsRemaining != expected || remaining > g.CreditsTotal {
		return false, nil
	}
	g.CreditsRemaining = remaining
	delta := int64(expected) - int64(remaining)
	onRollback(ctx, func() {
		s.grantsMu.Lock()
		defer s.grantsMu.Unlock()
		if g, ok := s.grants[grantID]; ok {
			g.CreditsRemaining = uint32(int64(g.CreditsRemaining) + delta)
		}
	})
	return true, nil
}

func (s *Store) CreateGrant(ctx context.Context, g *model.CreditGrant) error {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	s.nextGrant++
	g.ID = s.nextGrant
	cp := cloneGrant(g)
	s.grants[g.ID] = &cp
	id := g.ID
	onRollback(ctx, func() {
		s.grantsMu.Lock()
		defer s.grantsMu.Unlock()
		delete(s.grants, id)
	})
	return nil
}

func (s *Store) MarkExhausted(_ context.Context, now time.Time) (int64, error) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	var n int64
	for _, g := range s.grants {
		if g.ExhaustedAt == nil && g.Expired(now) {
			t := now
			g.ExhaustedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *Store) ListGrants(_ context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	var out []model.CreditGrant
	for _, g := range s.grants {
		if g.MemberID == memberID && (benefit == "" || g.BenefitType == benefit) {
			out = append(out, cloneGrant(g))
		}
	}
	slices.SortFunc(out, func(a, b model.CreditGrant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Grant returns a copy of one grant, for tests and diagnostics.
func (s *Store) Grant(id uint64) (model.CreditGrant, bool) {
	s.grantsMu.Lock()
	defer s.grantsMu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return model.CreditGrant{}, false
	}
	return cloneGrant(g), true
}
