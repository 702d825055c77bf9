package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

const slotColumns = `id, branch_id, benefit_type, benefit_type_id, slot_date, starts_at, ends_at,
	capacity, booked_count, is_active, created_at, updated_at`

// SlotRepo persists slots in MySQL.  The booked counter only moves
// through conditional single-row updates.
type SlotRepo struct {
	db *sql.DB
}

func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (model.Slot, error) {
	var (
		s      model.Slot
		typeID sql.NullInt64
		day    time.Time
		bt     string
	)
	if err := row.Scan(&s.ID, &s.BranchID, &bt, &typeID, &day, &s.StartsAt, &s.EndsAt,
		&s.Capacity, &s.BookedCount, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return model.Slot{}, err
	}
	s.BenefitType = model.NormalizeBenefitType(bt)
	s.BenefitTypeID = uintPtr(typeID)
	s.Date = day.Format(time.DateOnly)
	s.StartsAt = s.StartsAt.UTC()
	s.EndsAt = s.EndsAt.UTC()
	return s, nil
}

func (r *SlotRepo) GetSlot(ctx context.Context, id uint64) (model.Slot, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return s, translate(err)
}

func (r *SlotRepo) IncrementBooked(ctx context.Context, id uint64) (bool, error) {
	return r.adjust(ctx,
		`UPDATE slots SET booked_count = booked_count + 1
		 WHERE id = ? AND is_active = 1 AND booked_count < capacity`, id)
}

func (r *SlotRepo) DecrementBooked(ctx context.Context, id uint64) (bool, error) {
	return r.adjust(ctx,
		`UPDATE slots SET booked_count = booked_count - 1
		 WHERE id = ? AND booked_count > 0`, id)
}

func (r *SlotRepo) adjust(ctx context.Context, query string, id uint64) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSlots returns up to limit slots after the cursor ordered by start
// time then id.
func (r *SlotRepo) ListSlots(ctx context.Context, q slots.Query, after *slots.Cursor, limit int) ([]model.Slot, error) {
	var (
		where []string
		args  []any
	)
	if q.BranchID != 0 {
		where = append(where, "branch_id = ?")
		args = append(args, q.BranchID)
	}
	if q.BenefitType != "" {
		where = append(where, "benefit_type = ?")
		args = append(args, string(q.BenefitType))
	}
	if !q.From.IsZero() {
		where = append(where, "starts_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "starts_at < ?")
		args = append(args, q.To.UTC())
	}
	if q.OnlyActive {
		where = append(where, "is_active = 1")
	}
	if after != nil {
		where = append(where, "(starts_at > ? OR (starts_at = ? AND id > ?))")
		args = append(args, after.StartsAt.UTC(), after.StartsAt.UTC(), after.ID)
	}
	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY starts_at, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSlots inserts the slots in one statement.  Rows colliding with an
// existing slot of the same branch, benefit type and start are skipped;
// the count of inserted rows is returned.
func (r *SlotRepo) CreateSlots(ctx context.Context, in []model.Slot) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	query := `INSERT IGNORE INTO slots
		(branch_id, benefit_type, benefit_type_id, slot_date, starts_at, ends_at, capacity, booked_count, is_active)
		VALUES `
	args := make([]any, 0, len(in)*9)
	for i, s := range in {
		if i > 0 {
			query += ", "
		}
		query += "(" + placeholders(9) + ")"
		args = append(args, s.BranchID, string(s.BenefitType), nullUint(s.BenefitTypeID), s.Date,
			s.StartsAt.UTC(), s.EndsAt.UTC(), s.Capacity, 0, s.IsActive)
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", translate(err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SlotRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	q := conn(ctx, r.db)
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT 1 FROM slots WHERE id = ? FOR UPDATE`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrSlotNotFound
	}
	if err != nil {
		return translate(err)
	}
	_, err = q.ExecContext(ctx, `UPDATE slots SET is_active = ? WHERE id = ?`, active, id)
	return translate(err)
}
