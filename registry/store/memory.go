// Package store provides an in-memory backend for tests and development.
package store

import (
	"context"
	"sync"

	"github.com/saldo/store-balance-engine/registry"
)

// =============================================================================
// MEMORY STORE - DocumentStore + HistoryStore in one
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	doc    registry.Document
	events []registry.Event
}

func NewMemory() *Memory {
	return &Memory{doc: registry.DefaultDocument()}
}

// Seed replaces the document wholesale, bypassing version checks. Test setup only.
func (m *Memory) Seed(doc registry.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = cloneDocument(doc)
}

func (m *Memory) Load(_ context.Context) (registry.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneDocument(m.doc), nil
}

func (m *Memory) ConditionalPut(_ context.Context, doc registry.Document, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc.Meta.Version != expectVersion {
		return &registry.ConflictError{ServerVersion: m.doc.Meta.Version}
	}
	m.doc = cloneDocument(doc)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = registry.DefaultDocument()
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (m *Memory) Append(_ context.Context, ev registry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	if len(m.events) > registry.MaxHistoryEvents {
		m.events = m.events[len(m.events)-registry.MaxHistoryEvents:]
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]registry.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]registry.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}

func cloneDocument(doc registry.Document) registry.Document {
	out := doc
	out.Stores = make([]registry.Store, len(doc.Stores))
	copy(out.Stores, doc.Stores)
	if doc.Meta.LastGlobalRunAt != nil {
		t := *doc.Meta.LastGlobalRunAt
		out.Meta.LastGlobalRunAt = &t
	}
	return out
}
