package model

import "time"

// GrantSource records where a credits grant came from.
type GrantSource string

const (
	SourcePlan       GrantSource = "plan"
	SourcePackage    GrantSource = "package"
	SourceAdjustment GrantSource = "adjustment"
)

// CreditGrant is a member's balance of bookable units for one benefit
// type.  A member may hold several grants for the same benefit type at
// once.  0 <= CreditsRemaining <= CreditsTotal always holds.
//
// Fields:
//
//	ID               – primary key identifier.
//	MemberID         – owner of the grant.
//	BenefitType      – benefit type the credits can be spent on.
//	Source           – plan allowance, purchased package or adjustment.
//	MembershipID     – originating membership (nullable).
//	PackageID        – originating package purchase (nullable).
//	CreditsTotal     – units granted.
//	CreditsRemaining – units left to consume.
//	PurchasedAt      – when the grant was issued.
//	ExpiresAt        – expiry instant; nil means the grant never expires.
//	ExhaustedAt      – set by the expiry sweep; the grant is closed for consumption.
type CreditGrant struct {
	ID               uint64
	MemberID         uint64
	BenefitType      BenefitType
	Source           GrantSource
	MembershipID     *uint64
	PackageID        *uint64
	CreditsTotal     uint32
	CreditsRemaining uint32
	PurchasedAt      time.Time
	ExpiresAt        *time.Time
	ExhaustedAt      *time.Time
}

// Expired reports whether the grant's expiry is at or before now.
func (g CreditGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Usable reports whether credits can still be consumed from g at now.
func (g CreditGrant) Usable(now time.Time) bool {
	return g.CreditsRemaining > 0 && g.ExhaustedAt == nil && !g.Expired(now)
}

// GrantDebit is one slice of a consumption taken from a single grant.
type GrantDebit struct {
	GrantID uint64
	Amount  uint32
}

// DebitTrace lists the grants debited by one consumption, in the order
// they were debited.  Refunds walk it backwards.
type DebitTrace []GrantDebit

// Total returns the number of units covered by the trace.
func (t DebitTrace) Total() uint32 {
	var n uint32
	for _, d := range t {
		n += d.Amount
	}
	return n
}
