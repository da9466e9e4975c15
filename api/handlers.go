/*
handlers.go - HTTP API handlers for the balance tracking service

PURPOSE:
  Exposes the store balance engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  State:
    GET    /api/state              Full document (stores + meta)
    PUT    /api/state              Replace document (versioned)

  Stores:
    POST   /api/store/update       Change balance or daily budget
    POST   /api/store/remove       Delete a store

  Import:
    POST   /api/import             Bulk upsert by name (requires session)

  History:
    GET    /api/history            Audit events
    POST   /api/history/append     Append a client-side event

  Sweep:
    GET    /api/cron/daily         External cron trigger (X-Cron-Secret)
    POST   /api/cron/daily         Same
    POST   /api/run                Manual sweep, ignores the cutoff

  Admin:
    POST   /api/reset              Wipe document and history

  Auth:
    POST   /api/login              Issue session cookie
    POST   /api/logout             Clear session cookie
    GET    /api/me                 Current session

  Misc:
    GET    /api/health             Liveness + backend name

CONCURRENCY PROTOCOL:
  Versioned writes read the expected document version from the
  X-Base-Version header. A missing header skips the check (last write
  wins). A stale version yields 409 with the server's current version.
  Row-level writes pass record_version in the body instead; a row
  conflict yields 409 carrying the current row.

ERROR HANDLING:
  - 400: Validation errors, invalid input, unknown field
  - 401: Missing/invalid session or cron secret
  - 404: Store not found
  - 409: Version conflict
  - 503: Storage backend unavailable
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ops/ops.go: The operations these handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo/store-balance-engine/auth"
	"github.com/saldo/store-balance-engine/ops"
	"github.com/saldo/store-balance-engine/registry"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ops.Service
	Auth    *auth.Manager

	// CronSecret guards the cron endpoint; empty disables the check.
	CronSecret string

	// Backend is reported by the health endpoint.
	Backend string
}

// NewHandler creates a new handler.
func NewHandler(service *ops.Service, authMgr *auth.Manager, cronSecret, backend string) *Handler {
	return &Handler{
		Service:    service,
		Auth:       authMgr,
		CronSecret: cronSecret,
		Backend:    backend,
	}
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// GetState returns the full document.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	doc := h.Service.GetState(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, toStateDTO(doc))
}

// PutState replaces the whole document. The body is normalized leniently:
// unknown fields are dropped, malformed stores are repaired or skipped.
func (h *Handler) PutState(w http.ResponseWriter, r *http.Request) {
	var payload any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	base, err := baseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid X-Base-Version header", err)
		return
	}

	version, err := h.Service.ReplaceState(r.Context(), payload, base)
	if err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

// UpdateStore changes one field (balance or dailyBudget) of one store.
func (h *Handler) UpdateStore(w http.ResponseWriter, r *http.Request) {
	var req UpdateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.StoreID) == "" || strings.TrimSpace(req.Field) == "" {
		writeError(w, http.StatusBadRequest, "store_id and field are required", nil)
		return
	}

	base, err := baseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid X-Base-Version header", err)
		return
	}

	in := ops.UpdateFieldInput{
		StoreID:     registry.StoreID(strings.TrimSpace(req.StoreID)),
		Field:       ops.Field(strings.TrimSpace(req.Field)),
		BaseVersion: base,
		RowVersion:  req.RecordVersion,
		Actor:       h.actor(r),
	}
	if req.Value != nil {
		d, err := decimal.NewFromString(req.Value.String())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value", err)
			return
		}
		in.Value = &d
	}

	res, err := h.Service.UpdateField(r.Context(), in)
	if err != nil {
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": res.Version,
		"store":   toStoreDTO(res.Store),
	})
}

// RemoveStore deletes a store. History about it is preserved.
func (h *Handler) RemoveStore(w http.ResponseWriter, r *http.Request) {
	var req RemoveStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.StoreID) == "" {
		writeError(w, http.StatusBadRequest, "store_id is required", nil)
		return
	}

	base, err := baseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid X-Base-Version header", err)
		return
	}

	version, err := h.Service.RemoveStore(r.Context(), ops.RemoveStoreInput{
		StoreID:     registry.StoreID(strings.TrimSpace(req.StoreID)),
		BaseVersion: base,
		RowVersion:  req.RecordVersion,
		Actor:       h.actor(r),
	})
	if err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

// =============================================================================
// IMPORT
// =============================================================================

// importHeader matches the optional title line of a pasted list.
var importHeader = regexp.MustCompile(`(?i)^lista\s+de\s+saldos?`)

// Import bulk-upserts stores by name from structured items or pasted text.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]ops.ImportItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ops.ImportItem{Name: it.Name, Balance: importBalance(it.Balance)})
	}
	if len(items) == 0 && req.Text != "" {
		items = parseImportText(req.Text)
	}

	base, err := baseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid X-Base-Version header", err)
		return
	}

	res, err := h.Service.Import(r.Context(), items, base, h.actor(r))
	if err != nil {
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": res.Version,
		"created": res.Created,
		"updated": res.Updated,
	})
}

// parseImportText parses the "Name = value" line format. Lines without a
// parseable number import as the "no funds" sentinel.
func parseImportText(text string) []ops.ImportItem {
	var items []ops.ImportItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || importHeader.MatchString(line) {
			continue
		}

		name, rhs, _ := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		balance := registry.NoFunds()
		if kind, d := registry.ParseMoneyLoose(strings.TrimSpace(rhs)); kind == registry.ParseNumber {
			balance = registry.NewMoney(d)
		}
		items = append(items, ops.ImportItem{Name: name, Balance: balance})
	}
	return items
}

func importBalance(n *json.Number) registry.Money {
	if n == nil {
		return registry.NoFunds()
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil || d.IsNegative() {
		return registry.NoFunds()
	}
	return registry.NewMoney(d)
}

// =============================================================================
// HISTORY
// =============================================================================

// GetHistory returns the audit event list, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.History.List(r.Context())
	if err != nil {
		h.writeOpError(w, err)
		return
	}

	dto := HistoryDTO{Events: make([]EventDTO, len(events))}
	for i, ev := range events {
		dto.Events[i] = toEventDTO(ev)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, dto)
}

// AppendHistory records a client-supplied event.
func (h *Handler) AppendHistory(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev := registry.NewEvent(registry.EventType(req.Type), h.actor(r), req.Payload)
	if ev.Type == "" {
		ev.Type = "event"
	}
	if req.ID != "" {
		ev.ID = req.ID
	}
	if ts, err := time.Parse(time.RFC3339Nano, req.TS); err == nil {
		ev.At = ts
	}

	if err := h.Service.History.Append(r.Context(), ev); err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// =============================================================================
// SWEEP
// =============================================================================

// CronDaily is the external cron trigger. Guarded by X-Cron-Secret when a
// secret is configured. Idempotent per calendar day.
func (h *Handler) CronDaily(w http.ResponseWriter, r *http.Request) {
	if h.CronSecret != "" && r.Header.Get("X-Cron-Secret") != h.CronSecret {
		writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	out, err := h.Service.RunSweep(r.Context(), time.Now(), false, "cron")
	if err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"date_key": string(out.DateKey),
		"changed":  out.Changed,
	})
}

// RunNow triggers a sweep on demand, skipping the cutoff check.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.RunSweep(r.Context(), time.Now(), false, h.actor(r))
	if err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"date_key": string(out.DateKey),
		"changed":  out.Changed,
		"version":  out.Version,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset wipes the document and the history. Destructive.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Reset(r.Context(), h.actor(r)); err != nil {
		h.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// =============================================================================
// AUTH
// =============================================================================

// Login validates credentials and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user := strings.TrimSpace(req.User)
	if !h.Auth.ValidateLogin(user, req.Pass) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}

	auth.SetSessionCookie(w, h.Auth.MakeToken(user), req.Remember)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Me reports the current session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess := h.Auth.ReadSession(r)
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": sess.User})
}

// RequireAuth rejects requests without a valid session.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth.ReadSession(r) == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// MISC
// =============================================================================

// Health reports liveness and the configured backend.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "backend": h.Backend})
}

// =============================================================================
// HELPERS
// =============================================================================

// actor resolves the acting user from the session, falling back to
// "anonymous" when unauthenticated.
func (h *Handler) actor(r *http.Request) string {
	if sess := h.Auth.ReadSession(r); sess != nil {
		return sess.User
	}
	return "anonymous"
}

// baseVersion reads the optional X-Base-Version header. Absent means the
// caller opts out of the conflict check.
func baseVersion(r *http.Request) (*int64, error) {
	raw := r.Header.Get("X-Base-Version")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeOpError maps domain errors onto HTTP statuses.
func (h *Handler) writeOpError(w http.ResponseWriter, err error) {
	var conflict *registry.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:         "conflict",
			ServerVersion: conflict.ServerVersion,
		})
		return
	}

	var rowConflict *registry.RowConflictError
	if errors.As(err, &rowConflict) {
		dto := toStoreDTO(rowConflict.Current)
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:         "conflict",
			ServerVersion: rowConflict.Current.RecordVersion,
			CurrentRow:    &dto,
		})
		return
	}

	switch {
	case errors.Is(err, registry.ErrStoreNotFound):
		writeError(w, http.StatusNotFound, "Store not found", nil)
	case registry.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, registry.ErrBackendUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
