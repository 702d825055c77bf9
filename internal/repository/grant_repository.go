package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

const grantColumns = `id, member_id, benefit_type, source, membership_id, package_id,
	credits_total, credits_remaining, purchased_at, expires_at, exhausted_at`

// GrantRepo persists credit grants.  Reads that feed a debit or refund
// lock the rows in id order so concurrent ledgers never deadlock on each
// other.
type GrantRepo struct {
	db *sql.DB
}

func NewGrantRepo(db *sql.DB) *GrantRepo { return &GrantRepo{db: db} }

func scanGrant(row rowScanner) (model.CreditGrant, error) {
	var (
		g                  model.CreditGrant
		bt, src            string
		membership, pkg    sql.NullInt64
		expires, exhausted sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.MemberID, &bt, &src, &membership, &pkg,
		&g.CreditsTotal, &g.CreditsRemaining, &g.PurchasedAt, &expires, &exhausted); err != nil {
		return model.CreditGrant{}, err
	}
	g.BenefitType = model.NormalizeBenefitType(bt)
	g.Source = model.GrantSource(src)
	g.MembershipID = uintPtr(membership)
	g.PackageID = uintPtr(pkg)
	g.PurchasedAt = g.PurchasedAt.UTC()
	g.ExpiresAt = timePtr(expires)
	g.ExhaustedAt = timePtr(exhausted)
	return g, nil
}

func (r *GrantRepo) list(ctx context.Context, query string, args ...any) ([]model.CreditGrant, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []model.CreditGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LockUsableGrants returns the member's open grants for benefit with
// credits left, locked until the transaction ends.  Expiry is left to the
// caller, which compares against its own clock.
func (r *GrantRepo) LockUsableGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM credit_grants
		WHERE member_id = ? AND benefit_type = ? AND credits_remaining > 0 AND exhausted_at IS NULL
		ORDER BY id FOR UPDATE`, memberID, string(benefit))
}

func (r *GrantRepo) LockGrantsByID(ctx context.Context, ids []uint64) ([]model.CreditGrant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.list(ctx, `SELECT `+grantColumns+` FROM credit_grants
		WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id FOR UPDATE`, args...)
}

// SetRemaining writes remaining only while the row still holds expected
// and the new value stays within the grant total.
func (r *GrantRepo) SetRemaining(ctx context.Context, grantID uint64, expected, remaining uint32) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE credit_grants SET credits_remaining = ?
		 WHERE id = ? AND credits_remaining = ? AND credits_total >= ?`,
		remaining, grantID, expected, remaining)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *GrantRepo) CreateGrant(ctx context.Context, g *model.CreditGrant) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO credit_grants
		 (member_id, benefit_type, source, membership_id, package_id, credits_total, credits_remaining,
		  purchased_at, expires_at, exhausted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.MemberID, string(g.BenefitType), string(g.Source), nullUint(g.MembershipID), nullUint(g.PackageID),
		g.CreditsTotal, g.CreditsRemaining, g.PurchasedAt.UTC(), nullTime(g.ExpiresAt), nullTime(g.ExhaustedAt))
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = uint64(id)
	return nil
}

// MarkExhausted stamps every open grant whose expiry is at or before now.
func (r *GrantRepo) MarkExhausted(ctx context.Context, now time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE credit_grants SET exhausted_at = ?
		 WHERE exhausted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC(), now.UTC())
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

// ListGrants lists the member's grants, all benefit types when benefit is
// empty.
func (r *GrantRepo) ListGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	if benefit == "" {
		return r.list(ctx, `SELECT `+grantColumns+` FROM credit_grants WHERE member_id = ? ORDER BY id`, memberID)
	}
	return r.list(ctx, `SELECT `+grantColumns+` FROM credit_grants
		WHERE member_id = ? AND benefit_type = ? ORDER BY id`, memberID, string(benefit))
}
