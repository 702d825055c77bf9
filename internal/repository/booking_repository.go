package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/policy"
)

const bookingColumns = `id, slot_id, branch_id, member_id, membership_id, benefit_type, status, status_at,
	created_at, cancellation_reason, notes, idempotency_key`

// BookingRepo persists bookings and the grant debits behind each one.
//
// active_slot_id mirrors slot_id while the booking holds a seat and is
// NULL otherwise; the unique (member_id, active_slot_id) index is what
// stops a member from holding two seats on one slot.
type BookingRepo struct {
	db *sql.DB
}

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b             model.Booking
		membership    sql.NullInt64
		bt, status    string
		statusAt      time.Time
		reason, notes sql.NullString
		idem          sql.NullString
	)
	if err := row.Scan(&b.ID, &b.SlotID, &b.BranchID, &b.MemberID, &membership, &bt, &status, &statusAt,
		&b.CreatedAt, &reason, &notes, &idem); err != nil {
		return model.Booking{}, err
	}
	st, ok := model.StateOf(model.BookingStatus(status), statusAt)
	if !ok {
		return model.Booking{}, &model.ConsistencyFault{
			Op: "load", Entity: "booking", ID: b.ID, Detail: fmt.Sprintf("unknown status %q", status),
		}
	}
	b.State = st
	b.MembershipID = uintPtr(membership)
	b.BenefitType = model.NormalizeBenefitType(bt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.CancellationReason = stringPtr(reason)
	b.Notes = stringPtr(notes)
	b.IdempotencyKey = idem.String
	return b, nil
}

// CreateBooking inserts b with its debits and sets b.ID.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *model.Booking) error {
	q := conn(ctx, r.db)
	var active sql.NullInt64
	if b.HoldsSeat() {
		active = sql.NullInt64{Int64: int64(b.SlotID), Valid: true}
	}
	var idem sql.NullString
	if b.IdempotencyKey != "" {
		idem = sql.NullString{String: b.IdempotencyKey, Valid: true}
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO bookings
		 (slot_id, branch_id, member_id, membership_id, benefit_type, status, status_at, active_slot_id,
		  cancellation_reason, notes, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.SlotID, b.BranchID, b.MemberID, nullUint(b.MembershipID), string(b.BenefitType),
		string(b.Status()), b.State.At(), active, nullString(b.CancellationReason), nullString(b.Notes),
		idem, b.CreatedAt.UTC())
	if err != nil {
		if key, ok := duplicateKey(err); ok {
			if key == "uq_bookings_idem" {
				return model.ErrIdempotencyConflict
			}
			return model.ErrAlreadyBooked
		}
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i, d := range b.Debits {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO booking_debits (booking_id, seq, grant_id, amount) VALUES (?, ?, ?, ?)`,
			id, i, d.GrantID, d.Amount); err != nil {
			return fmt.Errorf("record debit: %w", translate(err))
		}
	}
	b.ID = uint64(id)
	return nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id uint64) (model.Booking, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, model.ErrBookingNotFound
	}
	if err != nil {
		return model.Booking{}, translate(err)
	}
	if err := r.attachDebits(ctx, []*model.Booking{&b}); err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

// FindByIdempotencyKey returns nil without error when the key is unused.
func (r *BookingRepo) FindByIdempotencyKey(ctx context.Context, memberID uint64, key string) (*model.Booking, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE member_id = ? AND idempotency_key = ?`, memberID, key)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	if err := r.attachDebits(ctx, []*model.Booking{&b}); err != nil {
		return nil, err
	}
	return &b, nil
}

// TransitionBooking moves the booking to the new state only while it is
// still in status from.  reason, when non-nil, replaces the stored
// cancellation reason.
func (r *BookingRepo) TransitionBooking(ctx context.Context, id uint64, from model.BookingStatus, to model.BookingState, reason *string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE bookings
		 SET status = ?, status_at = ?, active_slot_id = IF(?, slot_id, NULL),
		     cancellation_reason = COALESCE(?, cancellation_reason)
		 WHERE id = ? AND status = ?`,
		string(to.Status()), to.At(), to.Status().HoldsSeat(), nullString(reason), id, string(from))
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListMemberBookings returns the member's bookings newest first, limited
// to statuses when any are given.
func (r *BookingRepo) ListMemberBookings(ctx context.Context, memberID uint64, statuses []model.BookingStatus) ([]model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE member_id = ?`
	args := []any{memberID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*model.Booking, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := r.attachDebits(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveMemberBookings lists the member's seat-holding bookings whose
// slot starts in [from, to).  It is a locking read so it sees bookings
// committed while the caller waited on the member's grant locks.
func (r *BookingRepo) ActiveMemberBookings(ctx context.Context, memberID uint64, from, to time.Time) ([]policy.ActiveBooking, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT b.id, b.slot_id, b.benefit_type, s.slot_date, s.starts_at, s.ends_at
		 FROM bookings b JOIN slots s ON s.id = b.slot_id
		 WHERE b.member_id = ? AND b.status IN (?, ?) AND s.starts_at >= ? AND s.starts_at < ?
		 ORDER BY s.starts_at, b.id LOCK IN SHARE MODE`,
		memberID, string(model.StatusBooked), string(model.StatusCheckedIn), from.UTC(), to.UTC())
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []policy.ActiveBooking
	for rows.Next() {
		var (
			a   policy.ActiveBooking
			bt  string
			day time.Time
		)
		if err := rows.Scan(&a.BookingID, &a.SlotID, &bt, &day, &a.StartsAt, &a.EndsAt); err != nil {
			return nil, err
		}
		a.BenefitType = model.NormalizeBenefitType(bt)
		a.Date = day.Format(time.DateOnly)
		a.StartsAt = a.StartsAt.UTC()
		a.EndsAt = a.EndsAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *BookingRepo) HasActiveBooking(ctx context.Context, memberID, slotID uint64) (bool, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE member_id = ? AND active_slot_id = ?`, memberID, slotID).Scan(&n)
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// DueNoShows lists booked bookings whose slot started before cutoff,
// oldest slot first.
func (r *BookingRepo) DueNoShows(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT b.id FROM bookings b JOIN slots s ON s.id = b.slot_id
		 WHERE b.status = ? AND s.starts_at < ?
		 ORDER BY s.starts_at, b.id LIMIT ?`,
		string(model.StatusBooked), cutoff.UTC(), limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *BookingRepo) attachDebits(ctx context.Context, bs []*model.Booking) error {
	if len(bs) == 0 {
		return nil
	}
	byID := make(map[uint64]*model.Booking, len(bs))
	args := make([]any, 0, len(bs))
	for _, b := range bs {
		byID[b.ID] = b
		args = append(args, b.ID)
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT booking_id, grant_id, amount FROM booking_debits
		 WHERE booking_id IN (`+placeholders(len(args))+`) ORDER BY booking_id, seq`, args...)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bookingID uint64
			d         model.GrantDebit
		)
		if err := rows.Scan(&bookingID, &d.GrantID, &d.Amount); err != nil {
			return err
		}
		if b, ok := byID[bookingID]; ok {
			b.Debits = append(b.Debits, d)
		}
	}
	return rows.Err()
}
