// Package policy holds the pure rules that decide whether a booking may
// be made and what a cancellation or no-show costs the member.  Nothing
// here touches storage; every input is passed in by the caller.
package policy

import (
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

// Evaluate decides the outcome of cancelling a booking for a slot that
// starts at slotStart when the decision is taken at decisionTime.  A
// decision at or before the cancellation deadline is always free.
func Evaluate(slotStart, decisionTime time.Time, s model.BenefitSettings) model.CancellationOutcome {
	deadline := slotStart.Add(-s.CancellationDeadline())
	if !decisionTime.After(deadline) {
		return model.CancellationOutcome{RefundCredit: true}
	}
	return lateOutcome(s)
}

// NoShowOutcome is the outcome for a booking whose holder never showed up.
// It always takes the late branch, even with a zero cancellation deadline.
func NoShowOutcome(s model.BenefitSettings) model.CancellationOutcome {
	return lateOutcome(s)
}

func lateOutcome(s model.BenefitSettings) model.CancellationOutcome {
	out := model.CancellationOutcome{Late: true, RefundCredit: !s.NoShowPolicy.ForfeitsCredit()}
	if s.NoShowPolicy.ChargesPenalty() {
		out.PenaltyCents = s.NoShowPenaltyCents
	}
	return out
}
