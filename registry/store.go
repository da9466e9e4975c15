/*
store.go - Persistence interfaces

PURPOSE:
  Defines the contract between the engine and its backends. Business logic
  is written once against DocumentStore; the blob/file backend and the
  relational backend are two implementations selected by configuration.

CONDITIONAL WRITES:
  ConditionalPut is the primitive the optimistic concurrency controller
  relies on: the write commits only if the persisted version still equals
  expectVersion. Backends that can race (rows, files shared between
  processes) must make the check-and-write atomic.

ROW UPGRADE:
  Backends that store one row per store may additionally implement RowStore.
  Row operations condition on the per-store record version; a conditional
  write that matches zero rows is a conflict even when no mismatch was
  observed upfront.

IMPLEMENTATIONS:
  - store/sqlite: relational rows with record_version (production)
  - store/blob:   single JSON document on disk
  - registry/store: in-memory (tests/dev)

SEE ALSO:
  - ops/controller.go: the controller built on these interfaces
*/
package registry

import "context"

// MaxHistoryEvents caps the audit history; older events are discarded.
const MaxHistoryEvents = 5000

// DocumentStore persists the whole state document.
type DocumentStore interface {
	// Load returns the current normalized document. A backend with no
	// document yet returns the empty default, not an error.
	Load(ctx context.Context) (Document, error)

	// ConditionalPut persists doc if and only if the currently persisted
	// version equals expectVersion. doc.Meta.Version must already be
	// expectVersion+1. A lost race returns a *ConflictError.
	ConditionalPut(ctx context.Context, doc Document, expectVersion int64) error

	// Reset replaces the document with the empty default unconditionally.
	Reset(ctx context.Context) error
}

// RowStore is the per-row upgrade for relational backends.
type RowStore interface {
	// GetRow returns one store row. Missing id returns ErrStoreNotFound.
	GetRow(ctx context.Context, id StoreID) (Store, error)

	// UpdateRow writes the row conditioned on id and expectRecordVersion,
	// bumping the record version on success. Zero matched rows returns a
	// *RowConflictError carrying the current row, or ErrStoreNotFound if
	// the row is gone.
	UpdateRow(ctx context.Context, row Store, expectRecordVersion int64) (Store, error)

	// DeleteRow removes the row under the same conditional contract.
	DeleteRow(ctx context.Context, id StoreID, expectRecordVersion int64) error
}

// HistoryStore is the append-only audit sink. It does not participate in
// the optimistic-lock protocol; its lost-update risk under concurrent
// appends is accepted as low-stakes.
type HistoryStore interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context) ([]Event, error)
	Clear(ctx context.Context) error
}
