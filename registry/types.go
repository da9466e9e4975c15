/*
Package registry provides the core store-balance engine.

PURPOSE:
  This package contains the canonical data model for the store collection
  (the "state document"), the normalization rules that turn arbitrary input
  into a well-formed document, and the daily debit engine that applies each
  store's budget to its balance once per calendar day.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A 2-decimal monetary amount, or the explicit "no funds" sentinel
  - Store: One managed entity with a balance and a daily budget
  - Document: The whole collection plus versioning metadata
  - Status: Display classification (no funds / attention / ok)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Sentinel over negative: a balance never goes below zero; exhaustion is
     the explicit "no funds" state, distinct from 0.00
  3. Versioned writes: Document.Meta.Version increases by exactly 1 per
     successful write and guards optimistic concurrency

SEE ALSO:
  - normalize.go: Best-effort normalization of arbitrary input
  - debit.go: The daily debit decision and sweep
  - store.go: Persistence interfaces
*/
package registry

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StoreID string

// =============================================================================
// STORE - One managed entity
// =============================================================================

type Store struct {
	ID          StoreID
	Name        string
	Balance     Money
	DailyBudget decimal.Decimal
	LastRunDate DateKey // empty if the daily debit never ran for this store
	Active      bool

	// RecordVersion is only meaningful in row-oriented backends, where it
	// guards per-row optimistic updates. Document backends leave it at 0.
	RecordVersion int64
}

// =============================================================================
// DOCUMENT - The whole collection
// =============================================================================

type Meta struct {
	LastGlobalRunAt *time.Time
	Version         int64
}

type Document struct {
	Stores []Store
	Meta   Meta
}

// DefaultDocument returns the empty state a fresh (or unreadable) backend
// presents: no stores, version 0.
func DefaultDocument() Document {
	return Document{Stores: []Store{}, Meta: Meta{Version: 0}}
}

// FindStore returns a pointer into Stores for the given id, or nil.
func (d *Document) FindStore(id StoreID) *Store {
	for i := range d.Stores {
		if d.Stores[i].ID == id {
			return &d.Stores[i]
		}
	}
	return nil
}

// FindStoreByName matches case-insensitively on the trimmed name.
// Import upserts key on names, not ids.
func (d *Document) FindStoreByName(name string) *Store {
	k := foldName(name)
	for i := range d.Stores {
		if foldName(d.Stores[i].Name) == k {
			return &d.Stores[i]
		}
	}
	return nil
}

// =============================================================================
// STATUS - Display classification
// =============================================================================

type Status string

const (
	StatusNoFunds   Status = "no_funds"
	StatusAttention Status = "attention"
	StatusOK        Status = "ok"
)

// attentionThreshold marks balances worth flagging before they run out.
var attentionThreshold = decimal.NewFromInt(100)

// StatusOf classifies a store for listing views.
func StatusOf(s Store) Status {
	if !s.Balance.Valid {
		return StatusNoFunds
	}
	if s.Balance.Amount.LessThan(attentionThreshold) {
		return StatusAttention
	}
	return StatusOK
}

// statusRank orders statuses for default listing: most urgent first.
func statusRank(st Status) int {
	switch st {
	case StatusNoFunds:
		return 0
	case StatusAttention:
		return 1
	default:
		return 2
	}
}

// SortForListing orders stores in place for display: no funds first, then
// attention, then ok, ties broken by pt-BR collation on the name.
func SortForListing(stores []Store) {
	c := collate.New(language.BrazilianPortuguese)
	sort.SliceStable(stores, func(i, j int) bool {
		ri, rj := statusRank(StatusOf(stores[i])), statusRank(StatusOf(stores[j]))
		if ri != rj {
			return ri < rj
		}
		return c.CompareString(stores[i].Name, stores[j].Name) < 0
	})
}
