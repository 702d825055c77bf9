package memstore

import (
	"context"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

func (s *Store) GetSettings(_ context.Context, branchID uint64, benefit model.BenefitType) (model.BenefitSettings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	st, ok := s.settings[settingsKey{branchID: branchID, benefit: benefit}]
	if !ok {
		return model.BenefitSettings{}, model.ErrSettingsNotFound
	}
	return st, nil
}

func (s *Store) UpsertSettings(ctx context.Context, st model.BenefitSettings) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	k := settingsKey{branchID: st.BranchID, benefit: st.BenefitType}
	prev, existed := s.settings[k]
	s.settings[k] = st
	onRollback(ctx, func() {
		s.settingsMu.Lock()
		defer s.settingsMu.Unlock()
		if existed {
			s.settings[k] = prev
		} else {
			delete(s.settings, k)
		}
	})
	return nil
}

func (s *Store) RecordPenalty(ctx context.Context, p *model.Penalty) error {
	s.penaltiesMu.Lock()
	defer s.penaltiesMu.Unlock()
	for _, q := range s.penalties {
		if q.BookingID == p.BookingID && q.Reason == p.Reason {
			return &model.ConsistencyFault{
				Op: "record_penalty", Entity: "booking", ID: p.BookingID,
				Detail: p.Reason + " penalty already recorded",
			}
		}
	}
	s.nextPenalty++
	p.ID = s.nextPenalty
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.penalties = append(s.penalties, *p)
	id := p.ID
	onRollback(ctx, func() {
		s.penaltiesMu.Lock()
		defer s.penaltiesMu.Unlock()
		for i, q := range s.penalties {
			if q.ID == id {
				s.penalties = append(s.penalties[:i], s.penalties[i+1:]...)
				return
			}
		}
	})
	return nil
}

// ListPenalties returns the member's penalties created in [from, to),
// oldest first.
func (s *Store) ListPenalties(_ context.Context, memberID uint64, from, to time.Time) ([]model.Penalty, error) {
	s.penaltiesMu.Lock()
	defer s.penaltiesMu.Unlock()
	var out []model.Penalty
	for _, p := range s.penalties {
		if p.MemberID == memberID && !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Penalties returns every recorded penalty of a member.
func (s *Store) Penalties(memberID uint64) []model.Penalty {
	out, _ := s.ListPenalties(context.Background(), memberID, time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))
	return out
}

