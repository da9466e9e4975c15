/*
ops.go - Mutation operations

Each operation validates input, runs under the concurrency controller, and
on success appends one audit event. History failures are logged and never
roll back the primary mutation.
*/
package ops

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo/store-balance-engine/registry"
)

// Service holds the dependencies of all mutation operations.
type Service struct {
	Docs    registry.DocumentStore
	History registry.HistoryStore
	Engine  *registry.DebitEngine
}

func NewService(docs registry.DocumentStore, history registry.HistoryStore, engine *registry.DebitEngine) *Service {
	return &Service{Docs: docs, History: history, Engine: engine}
}

func (s *Service) ctrl() controller { return controller{docs: s.Docs} }

// appendEvent is best-effort: the mutation already committed.
func (s *Service) appendEvent(ctx context.Context, ev registry.Event) {
	if s.History == nil {
		return
	}
	if err := s.History.Append(ctx, ev); err != nil {
		log.Printf("[History] append %s failed: %v", ev.Type, err)
	}
}

// =============================================================================
// READS
// =============================================================================

// GetState returns the current document. Backend failures degrade to the
// empty default so the system stays readable.
func (s *Service) GetState(ctx context.Context) registry.Document {
	doc, err := s.Docs.Load(ctx)
	if err != nil {
		log.Printf("[State] load failed, serving empty default: %v", err)
		return registry.DefaultDocument()
	}
	return doc
}

// =============================================================================
// REPLACE STATE - whole-document write
// =============================================================================

// ReplaceState normalizes an arbitrary payload and persists it as the new
// document, preserving the version protocol.
func (s *Service) ReplaceState(ctx context.Context, payload any, base *int64) (int64, error) {
	next := registry.Normalize(payload)

	_, version, err := s.ctrl().mutate(ctx, base, func(doc *registry.Document) error {
		doc.Stores = next.Stores
		doc.Meta.LastGlobalRunAt = next.Meta.LastGlobalRunAt
		return nil
	})
	return version, err
}

// =============================================================================
// UPDATE FIELD
// =============================================================================

// Field names a mutable store field.
type Field string

const (
	FieldBalance     Field = "balance"
	FieldDailyBudget Field = "dailyBudget"
)

// UpdateFieldInput carries one field update. Value nil means the "no funds"
// sentinel and is only legal for the balance field. RowVersion selects the
// row-level protocol on backends that support it.
type UpdateFieldInput struct {
	StoreID     registry.StoreID
	Field       Field
	Value       *decimal.Decimal
	BaseVersion *int64
	RowVersion  *int64
	Actor       string
}

// UpdateFieldResult reports the updated store and the new document version
// (0 for row-level updates against backends without a document version).
type UpdateFieldResult struct {
	Store   registry.Store
	Version int64
}

func (s *Service) UpdateField(ctx context.Context, in UpdateFieldInput) (UpdateFieldResult, error) {
	if in.Field != FieldBalance && in.Field != FieldDailyBudget {
		return UpdateFieldResult{}, registry.ErrUnknownField
	}

	var value registry.Money
	switch {
	case in.Value == nil && in.Field == FieldBalance:
		value = registry.NoFunds()
	case in.Value == nil:
		return UpdateFieldResult{}, &registry.ValidationError{Field: string(in.Field), Reason: "value required"}
	default:
		amount, err := registry.ValidateAmount(*in.Value)
		if err != nil {
			return UpdateFieldResult{}, err
		}
		value = registry.NewMoney(amount)
	}

	if rows, ok := s.Docs.(registry.RowStore); ok && in.RowVersion != nil {
		return s.updateFieldRow(ctx, rows, in, value)
	}

	var updated registry.Store
	var before registry.Money
	_, version, err := s.ctrl().mutate(ctx, in.BaseVersion, func(doc *registry.Document) error {
		st := doc.FindStore(in.StoreID)
		if st == nil {
			return registry.ErrStoreNotFound
		}
		before = applyField(st, in.Field, value)
		updated = *st
		return nil
	})
	if err != nil {
		return UpdateFieldResult{}, err
	}

	s.appendEvent(ctx, fieldChangeEvent(in.Field, in.Actor, updated, before, value))
	return UpdateFieldResult{Store: updated, Version: version}, nil
}

func (s *Service) updateFieldRow(ctx context.Context, rows registry.RowStore, in UpdateFieldInput, value registry.Money) (UpdateFieldResult, error) {
	row, err := rows.GetRow(ctx, in.StoreID)
	if err != nil {
		return UpdateFieldResult{}, err
	}
	before := applyField(&row, in.Field, value)

	updated, err := rows.UpdateRow(ctx, row, *in.RowVersion)
	if err != nil {
		return UpdateFieldResult{}, err
	}

	s.appendEvent(ctx, fieldChangeEvent(in.Field, in.Actor, updated, before, value))
	return UpdateFieldResult{Store: updated}, nil
}

// applyField writes value into the store and returns the previous value of
// the touched field (budget reported as a valid Money for the event).
func applyField(st *registry.Store, field Field, value registry.Money) registry.Money {
	if field == FieldBalance {
		before := st.Balance
		st.Balance = value
		return before
	}
	before := registry.NewMoney(st.DailyBudget)
	st.DailyBudget = value.Amount
	return before
}

func fieldChangeEvent(field Field, actor string, st registry.Store, before, after registry.Money) registry.Event {
	typ := registry.EventBalanceChange
	if field == FieldDailyBudget {
		typ = registry.EventBudgetChange
	}
	return registry.NewEvent(typ, actor, registry.FieldChangePayload(st, eventAmount(before), eventAmount(after)))
}

func eventAmount(m registry.Money) any {
	if !m.Valid {
		return nil
	}
	return m.Amount.StringFixed(2)
}

// =============================================================================
// REMOVE STORE
// =============================================================================

type RemoveStoreInput struct {
	StoreID     registry.StoreID
	BaseVersion *int64
	RowVersion  *int64
	Actor       string
}

// RemoveStore deletes a store; past history about it is preserved.
// Not-found is distinct from conflict.
func (s *Service) RemoveStore(ctx context.Context, in RemoveStoreInput) (int64, error) {
	if rows, ok := s.Docs.(registry.RowStore); ok && in.RowVersion != nil {
		row, err := rows.GetRow(ctx, in.StoreID)
		if err != nil {
			return 0, err
		}
		if err := rows.DeleteRow(ctx, in.StoreID, *in.RowVersion); err != nil {
			return 0, err
		}
		s.appendEvent(ctx, registry.NewEvent(registry.EventStoreRemoved, in.Actor, map[string]any{
			"store_id": string(row.ID), "store_name": row.Name,
		}))
		return 0, nil
	}

	var removed registry.Store
	_, version, err := s.ctrl().mutate(ctx, in.BaseVersion, func(doc *registry.Document) error {
		for i := range doc.Stores {
			if doc.Stores[i].ID == in.StoreID {
				removed = doc.Stores[i]
				doc.Stores = append(doc.Stores[:i], doc.Stores[i+1:]...)
				return nil
			}
		}
		return registry.ErrStoreNotFound
	})
	if err != nil {
		return 0, err
	}

	s.appendEvent(ctx, registry.NewEvent(registry.EventStoreRemoved, in.Actor, map[string]any{
		"store_id": string(removed.ID), "store_name": removed.Name,
	}))
	return version, nil
}

// =============================================================================
// IMPORT - bulk upsert by name
// =============================================================================

// ImportItem is one parsed import line. A non-numeric balance imports as
// the "no funds" sentinel.
type ImportItem struct {
	Name    string
	Balance registry.Money
}

type ImportResult struct {
	Created int
	Updated int
	Version int64
}

// Import upserts every item by case-insensitive name in a single atomic
// versioned write. Existing stores get the imported balance and are forced
// active; new stores start with budget 0 and no run date.
func (s *Service) Import(ctx context.Context, items []ImportItem, base *int64, actor string) (ImportResult, error) {
	if len(items) == 0 {
		return ImportResult{}, &registry.ValidationError{Field: "items", Reason: "nothing to import"}
	}

	var res ImportResult
	_, version, err := s.ctrl().mutate(ctx, base, func(doc *registry.Document) error {
		res = ImportResult{}
		for _, it := range items {
			name := strings.TrimSpace(it.Name)
			if name == "" {
				continue
			}
			if existing := doc.FindStoreByName(name); existing != nil {
				existing.Balance = it.Balance
				existing.Active = true
				res.Updated++
				continue
			}
			doc.Stores = append(doc.Stores, registry.Store{
				ID:      registry.SlugID(name),
				Name:    name,
				Balance: it.Balance,
				Active:  true,
			})
			res.Created++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	res.Version = version

	s.appendEvent(ctx, registry.NewEvent(registry.EventImport, actor, map[string]any{
		"created":     res.Created,
		"updated":     res.Updated,
		"total_lines": len(items),
	}))
	return res, nil
}

// =============================================================================
// DAILY SWEEP
// =============================================================================

// SweepOutcome reports one sweep invocation.
type SweepOutcome struct {
	DateKey registry.DateKey
	Changed int
	Version int64
}

// RunSweep applies the daily debit rule across all stores. It is idempotent
// per calendar day; a write conflict triggers one automatic re-read and
// reapply before surfacing.
func (s *Service) RunSweep(ctx context.Context, now time.Time, enforceCutoff bool, actor string) (SweepOutcome, error) {
	var result registry.SweepResult
	_, version, err := s.ctrl().mutateWithRetry(ctx, func(doc *registry.Document) error {
		result = s.Engine.Sweep(doc, now, enforceCutoff, actor)
		if result.Changed == 0 {
			return errSkipWrite
		}
		return nil
	})
	if err != nil {
		return SweepOutcome{}, err
	}

	for _, ev := range result.Events {
		s.appendEvent(ctx, ev)
	}
	return SweepOutcome{DateKey: result.DateKey, Changed: result.Changed, Version: version}, nil
}

// =============================================================================
// RESET
// =============================================================================

// Reset replaces the document with the empty default and clears the
// history. Destructive, no version check.
func (s *Service) Reset(ctx context.Context, actor string) error {
	if err := s.Docs.Reset(ctx); err != nil {
		return err
	}
	if s.History != nil {
		if err := s.History.Clear(ctx); err != nil {
			log.Printf("[History] clear failed: %v", err)
		}
	}
	s.appendEvent(ctx, registry.NewEvent(registry.EventReset, actor, map[string]any{"by": actor}))
	return nil
}
