package bot

import (
	"testing"
	"time"

	coreconfig "github.com/m3rciful/charmbot/core/config"
	"github.com/m3rciful/charmbot/plans"
)

func TestBuildCatalogFallsBackToDefaults(t *testing.T) {
	catalog := buildCatalog(nil)
	if catalog.DefaultID() != "p12h" {
		t.Fatalf("default id = %q, want p12h", catalog.DefaultID())
	}
	if len(catalog.All()) != 3 {
		t.Fatalf("expected the 3 built-in tiers, got %d", len(catalog.All()))
	}
}

func TestBuildCatalogFromConfig(t *testing.T) {
	catalog := buildCatalog([]coreconfig.PlanConfig{
		{ID: "day", Title: "Um dia", Amount: 59.90, DurationHours: 24},
		{ID: "week", Title: "Uma semana", Amount: 199.90, DurationHours: 168, Media: true, Default: true},
	})

	if catalog.DefaultID() != "week" {
		t.Fatalf("default id = %q, want week", catalog.DefaultID())
	}

	day, ok := catalog.Lookup("day")
	if !ok {
		t.Fatal("configured plan missing from catalog")
	}
	if day.Duration != 24*time.Hour || day.Amount != 59.90 {
		t.Fatalf("plan fields not carried over: %+v", day)
	}
	if day.Caps.Has(plans.CapMedia) {
		t.Fatal("media capability granted without media: true")
	}
	if week := catalog.Get("week"); !week.Caps.Has(plans.CapMedia) {
		t.Fatal("media capability lost for media plan")
	}
}

func TestBuildCatalogFirstPlanIsDefaultWhenUnmarked(t *testing.T) {
	catalog := buildCatalog([]coreconfig.PlanConfig{
		{ID: "a", Amount: 10, DurationHours: 1},
		{ID: "b", Amount: 20, DurationHours: 2},
	})
	if catalog.DefaultID() != "a" {
		t.Fatalf("default id = %q, want first configured plan", catalog.DefaultID())
	}
}
