/*
event.go - Audit events

Every state change yields one immutable event for the history view. The
history is informational: appends are best-effort and never roll back the
mutation that produced them.
*/
package registry

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDebit         EventType = "debit"
	EventBalanceChange EventType = "balance_change"
	EventBudgetChange  EventType = "budget_change"
	EventStoreRemoved  EventType = "store_removed"
	EventImport        EventType = "import"
	EventReset         EventType = "reset"
)

// Event is one immutable audit record.
type Event struct {
	ID      string
	Type    EventType
	Actor   string // who performed the action ("system" for the sweep)
	At      time.Time
	Payload map[string]any
}

// NewEvent stamps an event with a fresh id and the current instant.
func NewEvent(typ EventType, actor string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Actor:   actor,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

// DebitResult tags the outcome of one applied debit.
type DebitResult string

const (
	DebitOK      DebitResult = "OK"
	DebitNoFunds DebitResult = "no funds"
)

// DebitPayload is the payload shape for EventDebit.
func DebitPayload(s Store, day DateKey, budget string, before, after Money, result DebitResult) map[string]any {
	p := map[string]any{
		"date_key":   string(day),
		"store_id":   string(s.ID),
		"store_name": s.Name,
		"budget":     budget,
		"result":     string(result),
	}
	if before.Valid {
		p["before"] = before.Amount.StringFixed(2)
	} else {
		p["before"] = nil
	}
	if after.Valid {
		p["after"] = after.Amount.StringFixed(2)
	} else {
		p["after"] = nil
	}
	return p
}

// FieldChangePayload is the payload shape for balance/budget changes.
func FieldChangePayload(s Store, from, to any) map[string]any {
	return map[string]any{
		"store_id":   string(s.ID),
		"store_name": s.Name,
		"from":       from,
		"to":         to,
		"source":     "manual",
	}
}
