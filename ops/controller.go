/*
Package ops composes the registry's validation, the daily debit engine, and
the optimistic concurrency controller into the mutation operations the API
exposes.

PURPOSE (controller.go):
  Every mutation of the shared state document goes through the same
  read-check-modify-write protocol:

    1. Load the current document and note its version.
    2. If the caller supplied a base version and it differs, reject with a
       ConflictError carrying the server-side version.
    3. Apply the mutation to the in-memory document.
    4. Persist with version = current + 1, conditioned on the persisted
       version still being current. A lost race is the same conflict.

  The controller has no intrinsic retry; retry/merge decisions belong to
  callers. RunSweep performs the one bounded automatic retry the error
  policy allows.
*/
package ops

import (
	"context"

	"github.com/saldo/store-balance-engine/registry"
)

// controller wraps document mutations with the version protocol.
type controller struct {
	docs registry.DocumentStore
}

// errSkipWrite lets a mutation conclude that nothing changed; the document
// is left untouched and no version is consumed.
type skipWriteError struct{}

func (skipWriteError) Error() string { return "no changes" }

var errSkipWrite = skipWriteError{}

// mutate runs fn against the current document and persists the result.
// It returns the persisted document and its new version. base is the
// version the caller last observed, or nil to skip the upfront check.
func (c controller) mutate(ctx context.Context, base *int64, fn func(doc *registry.Document) error) (registry.Document, int64, error) {
	doc, err := c.docs.Load(ctx)
	if err != nil {
		return registry.Document{}, 0, err
	}

	current := doc.Meta.Version
	if base != nil && *base != current {
		return registry.Document{}, 0, &registry.ConflictError{ServerVersion: current}
	}

	if err := fn(&doc); err != nil {
		if err == errSkipWrite {
			return doc, current, nil
		}
		return registry.Document{}, 0, err
	}

	doc.Meta.Version = current + 1
	if err := c.docs.ConditionalPut(ctx, doc, current); err != nil {
		return registry.Document{}, 0, err
	}
	return doc, doc.Meta.Version, nil
}

// mutateWithRetry re-reads and reapplies once after a conflict, for callers
// whose mutation is idempotent (the sweep). Further conflicts surface.
func (c controller) mutateWithRetry(ctx context.Context, fn func(doc *registry.Document) error) (registry.Document, int64, error) {
	doc, version, err := c.mutate(ctx, nil, fn)
	if err != nil && registry.IsConflict(err) {
		return c.mutate(ctx, nil, fn)
	}
	return doc, version, err
}
