// Package plans holds the static catalog of purchasable access tiers.
package plans

import "time"

// Capability is a bit flag describing what an entitled plan unlocks
// beyond plain text conversation.
type Capability uint8

const (
	// CapMedia unlocks photo/voice content in replies.
	CapMedia Capability = 1 << iota
)

// Has reports whether the set contains all bits of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Plan describes one purchasable access tier. Immutable at runtime.
type Plan struct {
	ID       string
	Title    string
	Amount   float64
	Duration time.Duration
	Caps     Capability
}

// Catalog is a fixed plan lookup with a default fallback.
type Catalog struct {
	plans     map[string]Plan
	defaultID string
}

// NewCatalog builds a catalog from the given plans. The defaultID must be
// present among them; unknown lookups fall back to it.
func NewCatalog(defaultID string, list ...Plan) *Catalog {
	m := make(map[string]Plan, len(list))
	for _, p := range list {
		m[p.ID] = p
	}
	if _, ok := m[defaultID]; !ok && len(list) > 0 {
		defaultID = list[0].ID
	}
	return &Catalog{plans: m, defaultID: defaultID}
}

// Default returns the catalog seeded with the standard tiers.
func Default() *Catalog {
	return NewCatalog("p12h",
		Plan{ID: "p12h", Title: "Acesso 12h", Amount: 49.90, Duration: 12 * time.Hour},
		Plan{ID: "p7d", Title: "Acesso 7 dias", Amount: 149.90, Duration: 7 * 24 * time.Hour, Caps: CapMedia},
		Plan{ID: "p30d", Title: "Acesso 30 dias", Amount: 399.90, Duration: 30 * 24 * time.Hour, Caps: CapMedia},
	)
}

// Get returns the plan for id, falling back to the default plan when the
// id is unknown or empty.
func (c *Catalog) Get(id string) Plan {
	if p, ok := c.plans[id]; ok {
		return p
	}
	return c.plans[c.defaultID]
}

// Lookup returns the plan for id and whether it exists, without fallback.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// All returns the plans in stable display order: default first, then the
// rest sorted by duration.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	out = append(out, c.plans[c.defaultID])
	rest := make([]Plan, 0, len(c.plans)-1)
	for id, p := range c.plans {
		if id == c.defaultID {
			continue
		}
		rest = append(rest, p)
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j].Duration < rest[i].Duration {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	return append(out, rest...)
}

// DefaultID exposes the configured fallback plan id.
func (c *Catalog) DefaultID() string {
	return c.defaultID
}
