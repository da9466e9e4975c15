/*
dto.go - Request/response data structures

PURPOSE:
  JSON shapes exchanged with clients, kept separate from domain types.
  Money fields marshal as raw JSON numbers with two decimals; the "no
  funds" sentinel marshals as null.

CONVENTIONS:
  - snake_case field names
  - balance: number or null (null means "no funds")
  - conflict responses: {"error": "conflict", "server_version": N}

SEE ALSO:
  - handlers.go: where these are produced and consumed
  - registry/codec.go: the persistence-side JSON shape
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/saldo/store-balance-engine/registry"
)

// =============================================================================
// RESPONSE DTOS
// =============================================================================

// StoreDTO is one store as served to clients.
type StoreDTO struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Balance       *json.Number `json:"balance"`
	DailyBudget   json.Number  `json:"daily_budget"`
	LastRunDate   string       `json:"last_run_date,omitempty"`
	Active        bool         `json:"active"`
	RecordVersion int64        `json:"record_version,omitempty"`
	Status        string       `json:"status"`
}

// MetaDTO carries document metadata.
type MetaDTO struct {
	LastGlobalRunAt *string `json:"last_global_run_at"`
	Version         int64   `json:"version"`
}

// StateDTO is the full document response.
type StateDTO struct {
	Stores []StoreDTO `json:"stores"`
	Meta   MetaDTO    `json:"meta"`
}

// EventDTO is one audit event.
type EventDTO struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Actor   string         `json:"actor,omitempty"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// HistoryDTO wraps the event list.
type HistoryDTO struct {
	Events []EventDTO `json:"events"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ConflictResponse is returned with 409 when a versioned write loses.
type ConflictResponse struct {
	Error         string    `json:"error"`
	ServerVersion int64     `json:"server_version"`
	CurrentRow    *StoreDTO `json:"current_row,omitempty"`
}

// =============================================================================
// REQUEST DTOS
// =============================================================================

// UpdateStoreRequest changes one field of one store. Value null on the
// balance field sets the "no funds" sentinel. RecordVersion selects the
// row-level protocol when the backend supports it.
type UpdateStoreRequest struct {
	StoreID       string       `json:"store_id"`
	Field         string       `json:"field"`
	Value         *json.Number `json:"value"`
	RecordVersion *int64       `json:"record_version,omitempty"`
}

// RemoveStoreRequest deletes one store.
type RemoveStoreRequest struct {
	StoreID       string `json:"store_id"`
	RecordVersion *int64 `json:"record_version,omitempty"`
}

// ImportRequest carries either pre-parsed items or raw pasted text in the
// "Name = value" line format. Items win when both are present.
type ImportRequest struct {
	Items []ImportItemDTO `json:"items"`
	Text  string          `json:"text"`
}

// ImportItemDTO is one import line. Balance null means "no funds".
type ImportItemDTO struct {
	Name    string       `json:"name"`
	Balance *json.Number `json:"balance"`
}

// AppendEventRequest adds a client-side event to the history.
type AppendEventRequest struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// LoginRequest authenticates a user.
type LoginRequest struct {
	User     string `json:"user"`
	Pass     string `json:"pass"`
	Remember bool   `json:"remember"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStoreDTO(s registry.Store) StoreDTO {
	dto := StoreDTO{
		ID:            string(s.ID),
		Name:          s.Name,
		DailyBudget:   json.Number(s.DailyBudget.StringFixed(2)),
		LastRunDate:   string(s.LastRunDate),
		Active:        s.Active,
		RecordVersion: s.RecordVersion,
		Status:        string(registry.StatusOf(s)),
	}
	if s.Balance.Valid {
		n := json.Number(s.Balance.Amount.StringFixed(2))
		dto.Balance = &n
	}
	return dto
}

func toStateDTO(doc registry.Document) StateDTO {
	registry.SortForListing(doc.Stores)
	out := StateDTO{
		Stores: make([]StoreDTO, len(doc.Stores)),
		Meta:   MetaDTO{Version: doc.Meta.Version},
	}
	for i, s := range doc.Stores {
		out.Stores[i] = toStoreDTO(s)
	}
	if doc.Meta.LastGlobalRunAt != nil {
		ts := doc.Meta.LastGlobalRunAt.UTC().Format(time.RFC3339)
		out.Meta.LastGlobalRunAt = &ts
	}
	return out
}

func toEventDTO(ev registry.Event) EventDTO {
	return EventDTO{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Actor:   ev.Actor,
		TS:      ev.At.UTC().Format(time.RFC3339Nano),
		Payload: ev.Payload,
	}
}
