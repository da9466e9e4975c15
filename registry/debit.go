/*
debit.go - The daily debit engine

PURPOSE:
  Decides, per store, whether today's budget debit is due and applies it.
  The rule is a single fixed policy, at most once per store per calendar
  day in the engine's time zone:

    1. Inactive stores are skipped.
    2. Sentinel-balance stores are skipped entirely (nothing to debit,
       LastRunDate stays untouched).
    3. Stores already run today are skipped.
    4. With cutoff enforcement, nothing runs before the cutoff hour.
    5. Budget <= 0 marks the store as run without touching the balance and
       without an event.
    6. Balance >= budget debits and rounds to 2 decimals; balance < budget
       exhausts to the sentinel instead of going negative.

  Running the sweep twice on the same day is a no-op the second time.

NUMERIC POLICY:
  decimal arithmetic, half-up rounding to 2 places after each subtraction.
  Unrounded fractional cents are never carried forward.
*/
package registry

import (
	"time"
)

// DebitEngine applies the daily debit rule.
type DebitEngine struct {
	// Location is the time zone calendar days are evaluated in.
	Location *time.Location

	// CutoffHour is the local hour before which the cutoff-enforced sweep
	// does nothing (the scheduled variant; manual and cron runs ignore it).
	CutoffHour int
}

// NewDebitEngine uses the conventional 08:00 cutoff.
func NewDebitEngine(loc *time.Location) *DebitEngine {
	return &DebitEngine{Location: loc, CutoffHour: 8}
}

// SweepResult summarizes one pass over the document.
type SweepResult struct {
	DateKey DateKey
	Changed int
	Events  []Event
}

// Sweep applies the debit rule to every store in the document. If anything
// changed, Meta.LastGlobalRunAt is set to now; the version bump happens in
// the persistence write that follows.
func (e *DebitEngine) Sweep(doc *Document, now time.Time, enforceCutoff bool, actor string) SweepResult {
	today := DateKeyIn(now, e.Location)
	res := SweepResult{DateKey: today}

	if enforceCutoff && now.Before(today.CutoffAt(e.CutoffHour, e.Location)) {
		return res
	}

	for i := range doc.Stores {
		changed, ev := e.debitStore(&doc.Stores[i], today)
		if !changed {
			continue
		}
		res.Changed++
		if ev != nil {
			event := NewEvent(EventDebit, actor, ev.Payload)
			res.Events = append(res.Events, event)
		}
	}

	if res.Changed > 0 {
		t := now
		doc.Meta.LastGlobalRunAt = &t
	}
	return res
}

// debitStore applies the per-store rule for the given date key. It reports
// whether the store changed and, for actual debits, the event to record.
func (e *DebitEngine) debitStore(s *Store, today DateKey) (bool, *Event) {
	if !s.Active {
		return false, nil
	}
	if s.Balance.IsNoFunds() {
		return false, nil
	}
	if s.LastRunDate == today {
		return false, nil
	}

	budget := s.DailyBudget
	if budget.Sign() <= 0 {
		// Marking still counts as "ran today" so the store isn't rechecked,
		// but nothing was debited and no event is recorded.
		s.LastRunDate = today
		return true, nil
	}

	before := s.Balance
	var result DebitResult
	if s.Balance.Amount.GreaterThanOrEqual(budget) {
		s.Balance = NewMoney(s.Balance.Amount.Sub(budget))
		result = DebitOK
	} else {
		s.Balance = NoFunds()
		result = DebitNoFunds
	}
	s.LastRunDate = today

	ev := Event{Payload: DebitPayload(*s, today, budget.StringFixed(2), before, s.Balance, result)}
	return true, &ev
}
