// Package credits is the entitlement ledger: it tracks how many bookable
// units each member holds per benefit type and moves them atomically.
package credits

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/metrics"
	"github.com/iliyamo/amenity-booking/internal/model"
)

// Store is the persistence contract of the ledger.  The Lock* reads must
// hold the returned rows until the surrounding transaction ends when the
// backend supports it.  SetRemaining is a conditional update keyed on the
// expected current value and reports false when it no longer matches.
type Store interface {
	LockUsableGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error)
	LockGrantsByID(ctx context.Context, ids []uint64) ([]model.CreditGrant, error)
	SetRemaining(ctx context.Context, grantID uint64, expected, remaining uint32) (bool, error)
	CreateGrant(ctx context.Context, g *model.CreditGrant) error
	MarkExhausted(ctx context.Context, now time.Time) (int64, error)
	ListGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error)
}

// Transactor runs fn inside one storage transaction.  Calls nested in an
// existing transaction join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Ledger struct {
	store Store
	tx    Transactor
	clock clock.Clock
	locks *keyLock
	log   *zap.Logger
}

func NewLedger(store Store, tx Transactor, clk clock.Clock, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, tx: tx, clock: clk, locks: newKeyLock(), log: log}
}

func lockKey(memberID uint64, benefit model.BenefitType) string {
	return strconv.FormatUint(memberID, 10) + "/" + string(benefit)
}

// Consume debits amount units from the member's usable grants for
// benefit, soonest expiry first, splitting across grants when needed.
// Either the whole amount is debited or nothing is.
func (l *Ledger) Consume(ctx context.Context, memberID uint64, benefit model.BenefitType, amount uint32) (model.DebitTrace, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidInput)
	}
	unlock := l.locks.Lock(lockKey(memberID, benefit))
	defer unlock()

	var trace model.DebitTrace
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		now := l.clock.Now()
		grants, err := l.store.LockUsableGrants(ctx, memberID, benefit)
		if err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		usable := ConsumptionOrder(grants, now)

		var available uint32
		for _, g := range usable {
			available += g.CreditsRemaining
		}
		if available < amount {
			return model.ErrInsufficientCredits
		}

		left := amount
		for _, g := range usable {
			if left == 0 {
				break
			}
			take := min(g.CreditsRemaining, left)
			ok, err := l.store.SetRemaining(ctx, g.ID, g.CreditsRemaining, g.CreditsRemaining-take)
			if err != nil {
				return fmt.Errorf("debit grant %d: %w", g.ID, err)
			}
			if !ok {
				return model.ErrConflict
			}
			trace = append(trace, model.GrantDebit{GrantID: g.ID, Amount: take})
			left -= take
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug("credits consumed",
		zap.Uint64("member_id", memberID),
		zap.String("benefit_type", string(benefit)),
		zap.Uint32("amount", amount),
		zap.Int("grants", len(trace)))
	return trace, nil
}

// Refund returns amount units of an earlier consumption described by
// trace.  Grants are credited in reverse consumption order and never
// above their total.  Units owed to a grant that has expired since are
// issued as one new non-expiring adjustment grant instead.
func (l *Ledger) Refund(ctx context.Context, memberID uint64, benefit model.BenefitType, amount uint32, trace model.DebitTrace) error {
	if amount == 0 {
		return nil
	}
	if amount > trace.Total() {
		return fmt.Errorf("%w: refund of %d exceeds debited %d", model.ErrInvalidInput, amount, trace.Total())
	}
	unlock := l.locks.Lock(lockKey(memberID, benefit))
	defer unlock()

	return l.tx.WithTx(ctx, func(ctx context.Context) error {
		now := l.clock.Now()
		ids := make([]uint64, 0, len(trace))
		for _, d := range trace {
			ids = append(ids, d.GrantID)
		}
		grants, err := l.store.LockGrantsByID(ctx, ids)
		if err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		byID := make(map[uint64]model.CreditGrant, len(grants))
		for _, g := range grants {
			byID[g.ID] = g
		}

		left := amount
		var reissue uint32
		for i := len(trace) - 1; i >= 0 && left > 0; i-- {
			d := trace[i]
			give := min(d.Amount, left)
			left -= give

			g, ok := byID[d.GrantID]
			if !ok || g.MemberID != memberID || g.BenefitType != benefit {
				return l.fault(d.GrantID, "refund target grant missing or owned by another member")
			}
			if g.Expired(now) || g.ExhaustedAt != nil {
				reissue += give
				continue
			}
			if g.CreditsRemaining+give > g.CreditsTotal {
				return l.fault(g.ID, fmt.Sprintf("refund of %d would exceed total %d (remaining %d)", give, g.CreditsTotal, g.CreditsRemaining))
			}
			ok, err := l.store.SetRemaining(ctx, g.ID, g.CreditsRemaining, g.CreditsRemaining+give)
			if err != nil {
				return fmt.Errorf("credit grant %d: %w", g.ID, err)
			}
			if !ok {
				return model.ErrConflict
			}
			g.CreditsRemaining += give
			byID[g.ID] = g
		}

		if reissue > 0 {
			adj := model.CreditGrant{
				MemberID:         memberID,
				BenefitType:      benefit,
				Source:           model.SourceAdjustment,
				CreditsTotal:     reissue,
				CreditsRemaining: reissue,
				PurchasedAt:      now,
			}
			if err := l.store.CreateGrant(ctx, &adj); err != nil {
				return fmt.Errorf("issue adjustment grant: %w", err)
			}
			l.log.Info("refund reissued as adjustment grant",
				zap.Uint64("member_id", memberID),
				zap.String("benefit_type", string(benefit)),
				zap.Uint64("grant_id", adj.ID),
				zap.Uint32("credits", reissue))
		}
		return nil
	})
}

func (l *Ledger) fault(grantID uint64, detail string) error {
	f := &model.ConsistencyFault{Op: "refund", Entity: "credit_grant", ID: grantID, Detail: detail}
	metrics.RecordConsistencyFault(f.Op)
	l.log.Error("credit refund rejected", zap.Uint64("grant_id", grantID), zap.Error(f))
	return f
}

// ExpireSweep closes every grant whose expiry is at or before now.  It
// is idempotent and keeps the rows for history.
func (l *Ledger) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := l.store.MarkExhausted(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire grants: %w", err)
	}
	if n > 0 {
		l.log.Info("credit grants expired", zap.Int64("count", n), zap.Time("now", now))
	}
	return n, nil
}

// Issue records a grant originated by the membership or package service.
func (l *Ledger) Issue(ctx context.Context, g model.CreditGrant) (model.CreditGrant, error) {
	if g.MemberID == 0 || !g.BenefitType.Valid() || g.CreditsTotal == 0 {
		return model.CreditGrant{}, fmt.Errorf("%w: member, benefit type and positive total are required", model.ErrInvalidInput)
	}
	if g.Source == "" {
		g.Source = model.SourcePlan
	}
	if g.CreditsRemaining == 0 {
		g.CreditsRemaining = g.CreditsTotal
	}
	if g.CreditsRemaining > g.CreditsTotal {
		return model.CreditGrant{}, fmt.Errorf("%w: remaining exceeds total", model.ErrInvalidInput)
	}
	now := l.clock.Now()
	if g.PurchasedAt.IsZero() {
		g.PurchasedAt = now
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return model.CreditGrant{}, fmt.Errorf("%w: grant already expired", model.ErrInvalidInput)
	}
	g.ExhaustedAt = nil
	if err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		return l.store.CreateGrant(ctx, &g)
	}); err != nil {
		return model.CreditGrant{}, err
	}
	return g, nil
}

// Balance sums the credits the member can still consume for benefit.
func (l *Ledger) Balance(ctx context.Context, memberID uint64, benefit model.BenefitType) (uint32, error) {
	grants, err := l.store.ListGrants(ctx, memberID, benefit)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, g := range ConsumptionOrder(grants, l.clock.Now()) {
		total += g.CreditsRemaining
	}
	return total, nil
}

// LockBalance is Balance read under the row locks Consume takes.  Inside
// a transaction it holds off other bookings of the member for benefit
// until commit.
func (l *Ledger) LockBalance(ctx context.Context, memberID uint64, benefit model.BenefitType) (uint32, error) {
	grants, err := l.store.LockUsableGrants(ctx, memberID, benefit)
	if err != nil {
		return 0, fmt.Errorf("lock grants: %w", err)
	}
	var total uint32
	for _, g := range ConsumptionOrder(grants, l.clock.Now()) {
		total += g.CreditsRemaining
	}
	return total, nil
}

// Grants lists every grant of the member for benefit, usable or not.
func (l *Ledger) Grants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	return l.store.ListGrants(ctx, memberID, benefit)
}

// ConsumptionOrder filters grants down to those usable at now and sorts
// them soonest expiry first.  Non-expiring grants go last; ties keep the
// older grant first.
func ConsumptionOrder(grants []model.CreditGrant, now time.Time) []model.CreditGrant {
	out := make([]model.CreditGrant, 0, len(grants))
	for _, g := range grants {
		if g.Usable(now) {
			out = append(out, g)
		}
	}
	slices.SortStableFunc(out, func(a, b model.CreditGrant) int {
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
		case a.ExpiresAt == nil:
			return 1
		case b.ExpiresAt == nil:
			return -1
		default:
			if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
