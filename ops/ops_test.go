package ops_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo/store-balance-engine/ops"
	"github.com/saldo/store-balance-engine/registry"
	"github.com/saldo/store-balance-engine/registry/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(stores ...registry.Store) (*ops.Service, *store.Memory) {
	mem := store.NewMemory()
	doc := registry.DefaultDocument()
	doc.Stores = stores
	doc.Meta.Version = 5
	mem.Seed(doc)

	engine := registry.NewDebitEngine(time.UTC)
	return ops.NewService(mem, mem, engine), mem
}

func seedStore(id, name, balance, budget string) registry.Store {
	return registry.Store{
		ID:          registry.StoreID(id),
		Name:        name,
		Balance:     registry.NewMoney(decimal.RequireFromString(balance)),
		DailyBudget: decimal.RequireFromString(budget),
		Active:      true,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// =============================================================================
// UPDATE FIELD TESTS
// =============================================================================

func TestUpdateField_Balance(t *testing.T) {
	// GIVEN: A store at version 5
	// WHEN: Updating the balance with the matching base version
	// THEN: The write lands, the version advances, an event is recorded

	svc, mem := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	res, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID:     "loja-a",
		Field:       ops.FieldBalance,
		Value:       decPtr("250.00"),
		BaseVersion: int64Ptr(5),
		Actor:       "tester",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Version != 6 {
		t.Errorf("expected version 6, got %d", res.Version)
	}
	if got := res.Store.Balance.String(); got != "250.00" {
		t.Errorf("expected balance 250.00, got %s", got)
	}

	events, _ := mem.List(context.Background())
	if len(events) != 1 || events[0].Type != registry.EventBalanceChange {
		t.Fatalf("expected one balance_change event, got %v", events)
	}
	if events[0].Actor != "tester" {
		t.Errorf("expected actor tester, got %s", events[0].Actor)
	}
}

func TestUpdateField_StaleBase_Conflict(t *testing.T) {
	// GIVEN: Two clients both read version 5, the first writes (now 6)
	// WHEN: The second writes with base 5
	// THEN: 409-style conflict reporting the server's version 6

	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))
	ctx := context.Background()

	_, err := svc.UpdateField(ctx, ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldBalance, Value: decPtr("250.00"), BaseVersion: int64Ptr(5),
	})
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	_, err = svc.UpdateField(ctx, ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldBalance, Value: decPtr("300.00"), BaseVersion: int64Ptr(5),
	})

	var conflict *registry.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ServerVersion != 6 {
		t.Errorf("expected server version 6, got %d", conflict.ServerVersion)
	}
}

func TestUpdateField_NoBase_LastWriteWins(t *testing.T) {
	// A caller that sends no base version opts out of the conflict check

	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	res, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldDailyBudget, Value: decPtr("35.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Store.DailyBudget.StringFixed(2) != "35.00" {
		t.Errorf("expected budget 35.00, got %s", res.Store.DailyBudget)
	}
}

func TestUpdateField_NullBalance_SetsSentinel(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	res, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldBalance, Value: nil,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Store.Balance.IsNoFunds() {
		t.Error("expected sentinel balance")
	}
}

func TestUpdateField_NullBudget_Rejected(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldDailyBudget, Value: nil,
	})
	if !registry.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateField_NegativeValue_Rejected(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-a", Field: ops.FieldBalance, Value: decPtr("-1"),
	})
	if !registry.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateField_UnknownField_Rejected(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-a", Field: "nome", Value: decPtr("1"),
	})
	if !errors.Is(err, registry.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestUpdateField_MissingStore_NotFound(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.UpdateField(context.Background(), ops.UpdateFieldInput{
		StoreID: "loja-x", Field: ops.FieldBalance, Value: decPtr("1"),
	})
	if !errors.Is(err, registry.ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
}

// =============================================================================
// REMOVE STORE TESTS
// =============================================================================

func TestRemoveStore(t *testing.T) {
	svc, mem := newTestService(
		seedStore("loja-a", "Loja A", "100.00", "20.00"),
		seedStore("loja-b", "Loja B", "50.00", "10.00"),
	)
	ctx := context.Background()

	version, err := svc.RemoveStore(ctx, ops.RemoveStoreInput{StoreID: "loja-a", Actor: "tester"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 6 {
		t.Errorf("expected version 6, got %d", version)
	}

	doc, _ := mem.Load(ctx)
	if len(doc.Stores) != 1 || doc.Stores[0].ID != "loja-b" {
		t.Errorf("expected only loja-b left, got %+v", doc.Stores)
	}

	// History about the removed store is preserved
	events, _ := mem.List(ctx)
	if len(events) != 1 || events[0].Type != registry.EventStoreRemoved {
		t.Fatalf("expected store_removed event, got %v", events)
	}
}

func TestRemoveStore_NotFound(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.RemoveStore(context.Background(), ops.RemoveStoreInput{StoreID: "loja-x"})
	if !errors.Is(err, registry.ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
}

func TestRemoveStore_StaleBase_Conflict(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))

	_, err := svc.RemoveStore(context.Background(), ops.RemoveStoreInput{
		StoreID: "loja-a", BaseVersion: int64Ptr(3),
	})
	if !registry.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// =============================================================================
// IMPORT TESTS
// =============================================================================

func TestImport_UpsertByName_CaseInsensitive(t *testing.T) {
	// GIVEN: An inactive store named "Loja X"
	// WHEN: Importing "loja x" plus a brand new name
	// THEN: The existing store is updated (and reactivated), the new one
	//       created with a derived id and zero budget

	existing := seedStore("loja-x", "Loja X", "10.00", "5.00")
	existing.Active = false
	existing.LastRunDate = "2025-03-01"
	svc, mem := newTestService(existing)
	ctx := context.Background()

	res, err := svc.Import(ctx, []ops.ImportItem{
		{Name: "loja x", Balance: registry.NewMoneyFromFloat(99)},
		{Name: "Café Novo", Balance: registry.NoFunds()},
	}, nil, "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 || res.Created != 1 {
		t.Fatalf("expected 1 updated 1 created, got %+v", res)
	}

	doc, _ := mem.Load(ctx)
	x := doc.FindStore("loja-x")
	if x == nil {
		t.Fatal("loja-x missing")
	}
	if got := x.Balance.String(); got != "99.00" {
		t.Errorf("expected balance 99.00, got %s", got)
	}
	if !x.Active {
		t.Error("expected import to reactivate the store")
	}
	if x.LastRunDate != "2025-03-01" {
		t.Errorf("expected run date untouched, got %q", x.LastRunDate)
	}

	novo := doc.FindStore("cafe-novo")
	if novo == nil {
		t.Fatal("expected cafe-novo created with slug id")
	}
	if !novo.Balance.IsNoFunds() {
		t.Error("expected sentinel balance for the new store")
	}
	if !novo.DailyBudget.IsZero() {
		t.Errorf("expected zero budget, got %s", novo.DailyBudget)
	}

	events, _ := mem.List(ctx)
	if len(events) != 1 || events[0].Type != registry.EventImport {
		t.Fatalf("expected import event, got %v", events)
	}
	if events[0].Payload["created"] != 1 || events[0].Payload["updated"] != 1 {
		t.Errorf("unexpected import payload: %v", events[0].Payload)
	}
}

func TestImport_Empty_Rejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Import(context.Background(), nil, nil, "tester")
	if !registry.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImport_BlankNames_Skipped(t *testing.T) {
	svc, mem := newTestService()

	res, err := svc.Import(context.Background(), []ops.ImportItem{
		{Name: "   ", Balance: registry.NewMoneyFromFloat(5)},
		{Name: "Loja A", Balance: registry.NewMoneyFromFloat(5)},
	}, nil, "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("expected 1 created, got %d", res.Created)
	}

	doc, _ := mem.Load(context.Background())
	if len(doc.Stores) != 1 {
		t.Errorf("expected 1 store, got %d", len(doc.Stores))
	}
}

// =============================================================================
// SWEEP TESTS
// =============================================================================

func TestRunSweep_DebitsAndRecordsEvents(t *testing.T) {
	svc, mem := newTestService(
		seedStore("loja-a", "Loja A", "250.00", "100.00"),
		seedStore("loja-b", "Loja B", "30.00", "50.00"),
	)
	ctx := context.Background()

	out, err := svc.RunSweep(ctx, time.Now(), false, "cron")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Changed != 2 {
		t.Fatalf("expected 2 changed, got %d", out.Changed)
	}
	if out.Version != 6 {
		t.Errorf("expected version 6, got %d", out.Version)
	}

	doc, _ := mem.Load(ctx)
	if got := doc.FindStore("loja-a").Balance.String(); got != "150.00" {
		t.Errorf("expected loja-a at 150.00, got %s", got)
	}
	if !doc.FindStore("loja-b").Balance.IsNoFunds() {
		t.Error("expected loja-b exhausted to the sentinel")
	}

	events, _ := mem.List(ctx)
	if len(events) != 2 {
		t.Fatalf("expected 2 debit events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Type != registry.EventDebit || ev.Actor != "cron" {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
}

func TestRunSweep_SecondRunSameDay_NoVersionConsumed(t *testing.T) {
	svc, _ := newTestService(seedStore("loja-a", "Loja A", "250.00", "100.00"))
	ctx := context.Background()
	now := time.Now()

	first, err := svc.RunSweep(ctx, now, false, "cron")
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}

	second, err := svc.RunSweep(ctx, now, false, "cron")
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second.Changed != 0 {
		t.Errorf("expected 0 changed on second run, got %d", second.Changed)
	}
	if second.Version != first.Version {
		t.Errorf("expected version to stay %d, got %d", first.Version, second.Version)
	}
}

// racingDocs makes the next `losses` ConditionalPut calls lose the write
// race before delegating to the wrapped backend.
type racingDocs struct {
	registry.DocumentStore
	losses int
}

func (r *racingDocs) ConditionalPut(ctx context.Context, doc registry.Document, expectVersion int64) error {
	if r.losses > 0 {
		r.losses--
		return &registry.ConflictError{ServerVersion: expectVersion + 1}
	}
	return r.DocumentStore.ConditionalPut(ctx, doc, expectVersion)
}

func TestRunSweep_LostRace_RetriedOnce(t *testing.T) {
	// GIVEN: The first commit of the sweep loses a write race
	// WHEN: Running the sweep
	// THEN: One automatic retry absorbs the conflict and the debit lands

	mem := store.NewMemory()
	doc := registry.DefaultDocument()
	doc.Stores = []registry.Store{seedStore("loja-a", "Loja A", "250.00", "100.00")}
	doc.Meta.Version = 5
	mem.Seed(doc)

	docs := &racingDocs{DocumentStore: mem, losses: 1}
	svc := ops.NewService(docs, mem, registry.NewDebitEngine(time.UTC))

	out, err := svc.RunSweep(context.Background(), time.Now(), false, "cron")
	if err != nil {
		t.Fatalf("expected the retry to absorb the conflict, got %v", err)
	}
	if out.Changed != 1 {
		t.Errorf("expected 1 changed, got %d", out.Changed)
	}
	if out.Version != 6 {
		t.Errorf("expected version 6, got %d", out.Version)
	}

	persisted, _ := mem.Load(context.Background())
	if got := persisted.FindStore("loja-a").Balance.String(); got != "150.00" {
		t.Errorf("expected balance 150.00, got %s", got)
	}
}

func TestRunSweep_SecondLostRace_Surfaces(t *testing.T) {
	// The retry is bounded: a conflict on the retried commit is returned

	mem := store.NewMemory()
	doc := registry.DefaultDocument()
	doc.Stores = []registry.Store{seedStore("loja-a", "Loja A", "250.00", "100.00")}
	doc.Meta.Version = 5
	mem.Seed(doc)

	docs := &racingDocs{DocumentStore: mem, losses: 2}
	svc := ops.NewService(docs, mem, registry.NewDebitEngine(time.UTC))

	_, err := svc.RunSweep(context.Background(), time.Now(), false, "cron")
	if !registry.IsConflict(err) {
		t.Fatalf("expected a conflict after the second lost race, got %v", err)
	}
}

// =============================================================================
// REPLACE / RESET TESTS
// =============================================================================

func TestReplaceState_NormalizesPayload(t *testing.T) {
	svc, mem := newTestService()
	ctx := context.Background()

	payload := map[string]any{
		"stores": []any{
			map[string]any{"name": "Loja A", "balance": 100.5, "daily_budget": -3},
			map[string]any{"name": ""},
		},
	}

	version, err := svc.ReplaceState(ctx, payload, int64Ptr(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 6 {
		t.Errorf("expected version 6, got %d", version)
	}

	doc, _ := mem.Load(ctx)
	if len(doc.Stores) != 1 {
		t.Fatalf("expected the nameless store dropped, got %d stores", len(doc.Stores))
	}
	if !doc.Stores[0].DailyBudget.IsZero() {
		t.Errorf("expected negative budget coerced to 0, got %s", doc.Stores[0].DailyBudget)
	}
}

func TestReplaceState_StaleBase_Conflict(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ReplaceState(context.Background(), map[string]any{}, int64Ptr(2))
	if !registry.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReset_WipesDocumentAndHistory(t *testing.T) {
	svc, mem := newTestService(seedStore("loja-a", "Loja A", "100.00", "20.00"))
	ctx := context.Background()

	// Generate some history first
	if _, err := svc.RunSweep(ctx, time.Now(), false, "cron"); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if err := svc.Reset(ctx, "tester"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, _ := mem.Load(ctx)
	if len(doc.Stores) != 0 || doc.Meta.Version != 0 {
		t.Errorf("expected empty default document, got %+v", doc)
	}

	// Only the reset event remains
	events, _ := mem.List(ctx)
	if len(events) != 1 || events[0].Type != registry.EventReset {
		t.Fatalf("expected single reset event, got %v", events)
	}
}
