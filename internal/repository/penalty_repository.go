package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// PenaltyRepo records monetary penalties.  Billing reads them from the
// penalties table; this service never charges anyone itself.
type PenaltyRepo struct {
	db *sql.DB
}

func NewPenaltyRepo(db *sql.DB) *PenaltyRepo { return &PenaltyRepo{db: db} }

func (r *PenaltyRepo) RecordPenalty(ctx context.Context, p *model.Penalty) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO penalties (booking_id, member_id, branch_id, amount_cents, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.MemberID, p.BranchID, p.AmountCents, p.Reason, p.CreatedAt.UTC())
	if err != nil {
		if _, dup := duplicateKey(err); dup {
			return &model.ConsistencyFault{
				Op: "record_penalty", Entity: "booking", ID: p.BookingID,
				Detail: fmt.Sprintf("%s penalty already recorded", p.Reason),
			}
		}
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// ListPenalties returns the member's penalties created in [from, to),
// oldest first.
func (r *PenaltyRepo) ListPenalties(ctx context.Context, memberID uint64, from, to time.Time) ([]model.Penalty, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, booking_id, member_id, branch_id, amount_cents, reason, created_at
		 FROM penalties WHERE member_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at, id`, memberID, from.UTC(), to.UTC())
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []model.Penalty
	for rows.Next() {
		var p model.Penalty
		if err := rows.Scan(&p.ID, &p.BookingID, &p.MemberID, &p.BranchID, &p.AmountCents, &p.Reason, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
