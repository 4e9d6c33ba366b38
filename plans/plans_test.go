package plans

import (
	"testing"
	"time"
)

func TestCatalogFallsBackToDefault(t *testing.T) {
	c := Default()

	p := c.Get("nope")
	if p.ID != "p12h" {
		t.Fatalf("expected default plan p12h, got %q", p.ID)
	}
	if p.Amount != 49.90 {
		t.Fatalf("expected default amount 49.90, got %v", p.Amount)
	}
	if p.Duration != 12*time.Hour {
		t.Fatalf("expected 12h duration, got %v", p.Duration)
	}
}

func TestCatalogLookup(t *testing.T) {
	c := Default()

	if _, ok := c.Lookup("p7d"); !ok {
		t.Fatal("p7d should exist")
	}
	if _, ok := c.Lookup("p99"); ok {
		t.Fatal("p99 should not exist")
	}
}

func TestCapabilityFlags(t *testing.T) {
	c := Default()

	if c.Get("p12h").Caps.Has(CapMedia) {
		t.Fatal("base plan should not carry media capability")
	}
	if !c.Get("p30d").Caps.Has(CapMedia) {
		t.Fatal("p30d should carry media capability")
	}
}

func TestAllPutsDefaultFirst(t *testing.T) {
	c := Default()

	all := c.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(all))
	}
	if all[0].ID != "p12h" {
		t.Fatalf("expected default first, got %q", all[0].ID)
	}
	if all[1].Duration > all[2].Duration {
		t.Fatal("remaining plans should be ordered by duration")
	}
}

func TestNewCatalogBadDefault(t *testing.T) {
	c := NewCatalog("missing", Plan{ID: "only"})
	if c.DefaultID() != "only" {
		t.Fatalf("expected fallback to first plan, got %q", c.DefaultID())
	}
}
