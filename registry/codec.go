/*
codec.go - Canonical JSON shape of the state document

Decode lives in normalize.go (loose, never fails); Encode here writes the
strict shape Decode round-trips. Balances serialize as JSON numbers, with
null for the "no funds" sentinel.
*/
package registry

import (
	"encoding/json"
	"time"
)

type storeJSON struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Balance       *json.Number `json:"balance"`
	DailyBudget   json.Number  `json:"daily_budget"`
	LastRunDate   string       `json:"last_run_date,omitempty"`
	Active        bool         `json:"active"`
	RecordVersion int64        `json:"record_version,omitempty"`
}

type metaJSON struct {
	LastGlobalRunAt *string `json:"last_global_run_at"`
	Version         int64   `json:"version"`
}

type documentJSON struct {
	Stores []storeJSON `json:"stores"`
	Meta   metaJSON    `json:"meta"`
}

// Encode renders the document in the canonical persisted shape.
func Encode(doc Document) ([]byte, error) {
	out := documentJSON{Stores: make([]storeJSON, 0, len(doc.Stores))}

	for _, s := range doc.Stores {
		sj := storeJSON{
			ID:            string(s.ID),
			Name:          s.Name,
			DailyBudget:   json.Number(s.DailyBudget.StringFixed(2)),
			LastRunDate:   string(s.LastRunDate),
			Active:        s.Active,
			RecordVersion: s.RecordVersion,
		}
		if s.Balance.Valid {
			n := json.Number(s.Balance.Amount.StringFixed(2))
			sj.Balance = &n
		}
		out.Stores = append(out.Stores, sj)
	}

	out.Meta.Version = doc.Meta.Version
	if doc.Meta.LastGlobalRunAt != nil {
		ts := doc.Meta.LastGlobalRunAt.UTC().Format(time.RFC3339)
		out.Meta.LastGlobalRunAt = &ts
	}
	return json.Marshal(out)
}
