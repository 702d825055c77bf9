package model

import (
	"fmt"
	"strings"
	"time"
)

// NoShowPolicy decides what happens to a late cancellation or a no-show.
type NoShowPolicy string

const (
	NoShowNone            NoShowPolicy = "none"
	NoShowForfeitCredit   NoShowPolicy = "forfeit_credit"
	NoShowMonetaryPenalty NoShowPolicy = "monetary_penalty"
	NoShowBoth            NoShowPolicy = "both"
)

// ParseNoShowPolicy accepts the canonical names as well as the hyphenated
// spellings used in branch configuration screens.
func ParseNoShowPolicy(raw string) (NoShowPolicy, error) {
	p := NoShowPolicy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch p {
	case NoShowNone, NoShowForfeitCredit, NoShowMonetaryPenalty, NoShowBoth:
		return p, nil
	case "":
		return NoShowNone, nil
	}
	return "", fmt.Errorf("%w: unknown no-show policy %q", ErrInvalidInput, raw)
}

// ForfeitsCredit reports whether late outcomes keep the member's credit.
func (p NoShowPolicy) ForfeitsCredit() bool { return p == NoShowForfeitCredit || p == NoShowBoth }

// ChargesPenalty reports whether late outcomes record a monetary penalty.
func (p NoShowPolicy) ChargesPenalty() bool { return p == NoShowMonetaryPenalty || p == NoShowBoth }

// BenefitSettings is the booking configuration of one benefit type at one
// branch.  The engine reads a snapshot once per operation.
type BenefitSettings struct {
	BranchID                     uint64
	BenefitType                  BenefitType
	SlotDurationMinutes          int
	BookingOpensHoursBefore      int
	CancellationDeadlineMinutes  int
	NoShowPolicy                 NoShowPolicy
	NoShowPenaltyCents           int64
	MaxBookingsPerDay            int // 0 means unlimited
	BufferBetweenSessionsMinutes int
	OpensAt                      string // HH:MM, branch local time
	ClosesAt                     string // HH:MM, branch local time
	Timezone                     string // IANA name, empty means UTC
	DefaultCapacity              uint32
}

func (s BenefitSettings) CancellationDeadline() time.Duration {
	return time.Duration(s.CancellationDeadlineMinutes) * time.Minute
}

func (s BenefitSettings) BookingOpensBefore() time.Duration {
	return time.Duration(s.BookingOpensHoursBefore) * time.Hour
}

func (s BenefitSettings) Buffer() time.Duration {
	return time.Duration(s.BufferBetweenSessionsMinutes) * time.Minute
}

func (s BenefitSettings) SlotDuration() time.Duration {
	return time.Duration(s.SlotDurationMinutes) * time.Minute
}

// Location resolves Timezone, defaulting to UTC.
func (s BenefitSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidInput, s.Timezone)
	}
	return loc, nil
}

// Validate checks that the settings are internally consistent and rewrites
// NoShowPolicy to its canonical spelling.
func (s *BenefitSettings) Validate() error {
	if s.BranchID == 0 || !s.BenefitType.Valid() {
		return fmt.Errorf("%w: branch and benefit type are required", ErrInvalidInput)
	}
	if s.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidInput)
	}
	if s.BookingOpensHoursBefore < 0 || s.CancellationDeadlineMinutes < 0 ||
		s.MaxBookingsPerDay < 0 || s.BufferBetweenSessionsMinutes < 0 || s.NoShowPenaltyCents < 0 {
		return fmt.Errorf("%w: negative values are not allowed", ErrInvalidInput)
	}
	policy, err := ParseNoShowPolicy(string(s.NoShowPolicy))
	if err != nil {
		return err
	}
	s.NoShowPolicy = policy
	if s.DefaultCapacity == 0 {
		return fmt.Errorf("%w: default capacity must be positive", ErrInvalidInput)
	}
	open, err := ParseClock(s.OpensAt)
	if err != nil {
		return err
	}
	closeAt, err := ParseClock(s.ClosesAt)
	if err != nil {
		return err
	}
	if closeAt <= open {
		return fmt.Errorf("%w: closing time must be after opening time", ErrInvalidInput)
	}
	_, err = s.Location()
	return err
}

// ParseClock parses an HH:MM wall-clock time into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time of day %q", ErrInvalidInput, v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
