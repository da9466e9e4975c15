/*
Package blob persists the state document and the history as JSON files.

PURPOSE:
  The document-backed variant of persistence: one JSON object per concern
  (state.json, history.json) in a data directory, overwritten whole on
  every write. This mirrors object-blob storage; swap the directory for a
  bucket and the semantics hold.

CONCURRENCY:
  A mutex serializes access within the process, which makes the
  version check and the file write atomic with respect to other writers
  going through this Store. The version check is what guards callers from
  clobbering each other; see ops/controller.go.

DURABILITY:
  Writes go through a temp file + rename so a crash never leaves a
  half-written document behind.
*/
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saldo/store-balance-engine/registry"
)

const (
	stateFile   = "state.json"
	historyFile = "history.json"
)

// Store implements registry.DocumentStore and registry.HistoryStore over a
// directory of JSON files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the data directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", registry.ErrBackendUnavailable, err)
	}
	return &Store{dir: dir}, nil
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (s *Store) Load(ctx context.Context) (registry.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (registry.Document, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return registry.DefaultDocument(), nil
	}
	if err != nil {
		return registry.Document{}, fmt.Errorf("%w: read state: %v", registry.ErrBackendUnavailable, err)
	}
	return registry.Decode(raw), nil
}

func (s *Store) ConditionalPut(ctx context.Context, doc registry.Document, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		return err
	}
	if current.Meta.Version != expectVersion {
		return &registry.ConflictError{ServerVersion: current.Meta.Version}
	}

	raw, err := registry.Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encode state: %v", registry.ErrBackendUnavailable, err)
	}
	return s.writeFileLocked(stateFile, raw)
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := registry.Encode(registry.DefaultDocument())
	if err != nil {
		return fmt.Errorf("%w: encode state: %v", registry.ErrBackendUnavailable, err)
	}
	return s.writeFileLocked(stateFile, raw)
}

// writeFileLocked writes atomically via temp file + rename.
func (s *Store) writeFileLocked(name string, raw []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", registry.ErrBackendUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write: %v", registry.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", registry.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", registry.ErrBackendUnavailable, err)
	}
	return nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

type eventJSON struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Actor   string         `json:"actor,omitempty"`
	At      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload"`
}

type historyJSON struct {
	Events []eventJSON `json:"events"`
}

func (s *Store) Append(ctx context.Context, ev registry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.readHistoryLocked()
	h.Events = append(h.Events, eventJSON{
		ID: ev.ID, Type: string(ev.Type), Actor: ev.Actor, At: ev.At, Payload: ev.Payload,
	})
	if len(h.Events) > registry.MaxHistoryEvents {
		h.Events = h.Events[len(h.Events)-registry.MaxHistoryEvents:]
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", registry.ErrBackendUnavailable, err)
	}
	return s.writeFileLocked(historyFile, raw)
}

func (s *Store) List(ctx context.Context) ([]registry.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.readHistoryLocked()
	out := make([]registry.Event, 0, len(h.Events))
	for _, e := range h.Events {
		out = append(out, registry.Event{
			ID: e.ID, Type: registry.EventType(e.Type), Actor: e.Actor, At: e.At, Payload: e.Payload,
		})
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(historyJSON{Events: []eventJSON{}})
	if err != nil {
		return err
	}
	return s.writeFileLocked(historyFile, raw)
}

// readHistoryLocked is forgiving: a missing or corrupt file is an empty
// history, matching the read policy for the state document.
func (s *Store) readHistoryLocked() historyJSON {
	raw, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if err != nil {
		return historyJSON{}
	}
	var h historyJSON
	if err := json.Unmarshal(raw, &h); err != nil {
		return historyJSON{}
	}
	return h
}
