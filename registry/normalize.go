/*
normalize.go - Best-effort document normalization

PURPOSE:
  Produces a well-formed Document from arbitrary (possibly malformed) input:
  freshly parsed storage bytes or a client-submitted payload. This runs once
  at the boundary; downstream code trusts the invariants and never
  re-validates ad hoc.

ERROR POLICY:
  Never fails. Unreadable input normalizes to the empty default; stores
  whose resolved name is empty are dropped; invalid balances become the
  "no funds" sentinel; invalid or negative budgets become 0; the version is
  coerced to a non-negative integer.
*/
package registry

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Decode parses raw JSON bytes into a normalized Document. Unparseable
// input yields the default document, keeping reads usable when the backend
// hands back garbage.
func Decode(raw []byte) Document {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return DefaultDocument()
	}
	return Normalize(v)
}

// Normalize coerces an arbitrary document-shaped value into a valid
// Document. Pure transform, no side effects.
func Normalize(v any) Document {
	out := DefaultDocument()

	m, ok := v.(map[string]any)
	if !ok {
		return out
	}

	if meta, ok := m["meta"].(map[string]any); ok {
		if ts, ok := asString(meta["last_global_run_at"]); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				out.Meta.LastGlobalRunAt = &t
			}
		}
		if ver, ok := asInt(meta["version"]); ok && ver >= 0 {
			out.Meta.Version = ver
		}
	}

	rawStores, ok := m["stores"].([]any)
	if !ok {
		return out
	}

	for _, rs := range rawStores {
		sm, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		s := normalizeStore(sm)
		if s.Name == "" {
			continue
		}
		out.Stores = append(out.Stores, s)
	}
	return out
}

func normalizeStore(m map[string]any) Store {
	s := Store{Active: true}

	if name, ok := asString(m["name"]); ok {
		s.Name = trimmed(name)
	}

	if id, ok := asString(m["id"]); ok && trimmed(id) != "" {
		s.ID = StoreID(trimmed(id))
	} else if s.Name != "" {
		s.ID = SlugID(s.Name)
	}

	if d, ok := asDecimal(m["balance"]); ok && !d.IsNegative() {
		s.Balance = NewMoney(d)
	} // anything else (absent, null, junk, negative) is the sentinel

	if d, ok := asDecimal(m["daily_budget"]); ok && !d.IsNegative() {
		s.DailyBudget = d.Round(2)
	} else {
		s.DailyBudget = decimal.Zero
	}

	if k, ok := asString(m["last_run_date"]); ok && DateKey(k).IsValid() {
		s.LastRunDate = DateKey(k)
	}

	if active, ok := m["active"].(bool); ok && !active {
		s.Active = false
	}

	if rv, ok := asInt(m["record_version"]); ok && rv > 0 {
		s.RecordVersion = rv
	}
	return s
}

// =============================================================================
// LOOSE COERCION
// =============================================================================

func trimmed(s string) string {
	return string(bytes.TrimSpace([]byte(s)))
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		d, err := decimal.NewFromString(trimmed(t))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case float64:
		return int64(t), float64(int64(t)) == t
	case int:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}
