package registry_test

import (
	"testing"
	"time"

	"github.com/saldo/store-balance-engine/registry"
)

func TestDateKeyIn_TimezoneBoundary(t *testing.T) {
	// 01:00 UTC is still the previous day in São Paulo (UTC-3)
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	instant := time.Date(2025, time.March, 11, 1, 0, 0, 0, time.UTC)

	if got := registry.DateKeyIn(instant, time.UTC); got != "2025-03-11" {
		t.Errorf("expected 2025-03-11 in UTC, got %s", got)
	}
	if got := registry.DateKeyIn(instant, saoPaulo); got != "2025-03-10" {
		t.Errorf("expected 2025-03-10 in São Paulo, got %s", got)
	}
}

func TestDateKey_IsValid(t *testing.T) {
	valid := []registry.DateKey{"2025-03-10", "2000-01-01"}
	for _, k := range valid {
		if !k.IsValid() {
			t.Errorf("expected %s valid", k)
		}
	}

	invalid := []registry.DateKey{"", "10/03/2025", "2025-3-10", "2025-13-40", "yesterday"}
	for _, k := range invalid {
		if k.IsValid() {
			t.Errorf("expected %s invalid", k)
		}
	}
}

func TestCutoffAt(t *testing.T) {
	k := registry.DateKey("2025-03-10")
	cutoff := k.CutoffAt(8, time.UTC)

	want := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	if !cutoff.Equal(want) {
		t.Errorf("expected %v, got %v", want, cutoff)
	}
}

func TestNextRunAt(t *testing.T) {
	// Before the cutoff the next run is today; after it, tomorrow
	early := time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC)
	late := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	todayCutoff := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	if got := registry.NextRunAt(early, 8, time.UTC); !got.Equal(todayCutoff) {
		t.Errorf("expected today's cutoff, got %v", got)
	}
	if got := registry.NextRunAt(late, 8, time.UTC); !got.Equal(todayCutoff.AddDate(0, 0, 1)) {
		t.Errorf("expected tomorrow's cutoff, got %v", got)
	}
}
