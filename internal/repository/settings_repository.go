package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// SettingsRepo stores one benefit_settings row per branch and benefit
// type.
type SettingsRepo struct {
	db *sql.DB
}

func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

func (r *SettingsRepo) GetSettings(ctx context.Context, branchID uint64, benefit model.BenefitType) (model.BenefitSettings, error) {
	var (
		s      model.BenefitSettings
		bt, ns string
	)
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT branch_id, benefit_type, slot_duration_minutes, booking_opens_hours_before,
		        cancellation_deadline_minutes, no_show_policy, no_show_penalty_cents, max_bookings_per_day,
		        buffer_between_sessions_minutes, opens_at, closes_at, timezone, default_capacity
		 FROM benefit_settings WHERE branch_id = ? AND benefit_type = ?`,
		branchID, string(benefit)).Scan(
		&s.BranchID, &bt, &s.SlotDurationMinutes, &s.BookingOpensHoursBefore,
		&s.CancellationDeadlineMinutes, &ns, &s.NoShowPenaltyCents, &s.MaxBookingsPerDay,
		&s.BufferBetweenSessionsMinutes, &s.OpensAt, &s.ClosesAt, &s.Timezone, &s.DefaultCapacity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BenefitSettings{}, model.ErrSettingsNotFound
	}
	if err != nil {
		return model.BenefitSettings{}, translate(err)
	}
	s.BenefitType = model.NormalizeBenefitType(bt)
	if s.NoShowPolicy, err = model.ParseNoShowPolicy(ns); err != nil {
		return model.BenefitSettings{}, &model.ConsistencyFault{
			Op: "load", Entity: "benefit_settings", ID: branchID,
			Detail: fmt.Sprintf("unknown no-show policy %q for %s", ns, benefit),
		}
	}
	return s, nil
}

func (r *SettingsRepo) UpsertSettings(ctx context.Context, s model.BenefitSettings) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO benefit_settings
		 (branch_id, benefit_type, slot_duration_minutes, booking_opens_hours_before,
		  cancellation_deadline_minutes, no_show_policy, no_show_penalty_cents, max_bookings_per_day,
		  buffer_between_sessions_minutes, opens_at, closes_at, timezone, default_capacity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		  slot_duration_minutes = VALUES(slot_duration_minutes),
		  booking_opens_hours_before = VALUES(booking_opens_hours_before),
		  cancellation_deadline_minutes = VALUES(cancellation_deadline_minutes),
		  no_show_policy = VALUES(no_show_policy),
		  no_show_penalty_cents = VALUES(no_show_penalty_cents),
		  max_bookings_per_day = VALUES(max_bookings_per_day),
		  buffer_between_sessions_minutes = VALUES(buffer_between_sessions_minutes),
		  opens_at = VALUES(opens_at),
		  closes_at = VALUES(closes_at),
		  timezone = VALUES(timezone),
		  default_capacity = VALUES(default_capacity)`,
		s.BranchID, string(s.BenefitType), s.SlotDurationMinutes, s.BookingOpensHoursBefore,
		s.CancellationDeadlineMinutes, string(s.NoShowPolicy), s.NoShowPenaltyCents, s.MaxBookingsPerDay,
		s.BufferBetweenSessionsMinutes, s.OpensAt, s.ClosesAt, s.Timezone, s.DefaultCapacity)
	return translate(err)
}
