package gate

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/charmbot/plans"
	"github.com/m3rciful/charmbot/sessions"
)

func testGate(store sessions.Store) *Gate {
	return New(store, plans.Default(),
		NewClassifier([]string{"foto", "quente"}),
		NewClassifier([]string{"quero mais"}),
		Config{EscalationThreshold: 3, UpsellBandLow: 5, UpsellBandHigh: 10},
	)
}

func TestGateAllowsNormalConversation(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	d, err := g.Evaluate(ctx, 1, "oi, tudo bem?")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomeReply {
		t.Fatalf("expected reply, got %v (%s)", d.Outcome, d.Reason)
	}
	if d.Entitled {
		t.Fatal("free session must not be entitled")
	}
}

func TestGateEscalationThresholdExact(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	// Threshold is 3: two matching messages stay conversational.
	for i := 0; i < 2; i++ {
		d, err := g.Evaluate(ctx, 2, "me manda uma foto")
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if d.Outcome != OutcomeReply {
			t.Fatalf("message %d should not trip the gate", i+1)
		}
	}

	// Third match crosses the threshold.
	d, err := g.Evaluate(ctx, 2, "quero uma foto sua")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomePaywall || d.Reason != "escalation" {
		t.Fatalf("expected escalation paywall, got %v (%s)", d.Outcome, d.Reason)
	}

	s, _ := store.Snapshot(ctx, 2)
	if s.State != sessions.StateAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %v", s.State)
	}
	if s.EscalationCount != 0 {
		t.Fatal("escalation counter resets when the threshold is crossed")
	}
}

func TestGateNonMatchingMessagesDoNotEscalate(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	for i := 0; i < 4; i++ {
		d, err := g.Evaluate(ctx, 3, "como foi seu dia?")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Outcome != OutcomeReply {
			t.Fatal("neutral messages must never trip the escalation gate")
		}
	}
}

func TestGatePaywallIdempotentWhilePending(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	_ = store.BeginCheckout(ctx, sessions.PendingCheckout{
		CheckoutID: "C1", SessionID: 4, PlanID: "p12h", CreatedAt: time.Now(),
	})

	for i := 0; i < 3; i++ {
		d, err := g.Evaluate(ctx, 4, "oi?")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Outcome != OutcomePaywall || d.Reason != "pending" {
			t.Fatalf("expected pending paywall, got %v (%s)", d.Outcome, d.Reason)
		}
	}

	// Counters are untouched while the paywall is showing.
	s, _ := store.Snapshot(ctx, 4)
	if s.MessageCount != 0 {
		t.Fatalf("paywalled messages must not advance counters, got %d", s.MessageCount)
	}
}

func TestGateLazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	_ = store.Grant(ctx, 5, "p12h", time.Now().Add(-time.Minute))

	d, err := g.Evaluate(ctx, 5, "oi")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomePaywall || d.Reason != "expired" {
		t.Fatalf("expected expired paywall, got %v (%s)", d.Outcome, d.Reason)
	}

	s, _ := store.Snapshot(ctx, 5)
	if !s.EntitlementExpiry.IsZero() || s.EntitledPlanID != "" {
		t.Fatal("lazy expiry must clear entitlement fields")
	}
}

func TestGateEntitledSessionGetsReply(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	_ = store.Grant(ctx, 6, "p30d", time.Now().Add(time.Hour))

	d, err := g.Evaluate(ctx, 6, "me manda uma foto")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomeReply || !d.Entitled {
		t.Fatalf("entitled session should converse freely, got %v", d.Outcome)
	}
	if !d.Caps.Has(plans.CapMedia) {
		t.Fatal("p30d should expose the media capability")
	}
}

func TestGateGrantLandsMidConversation(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	_ = store.BeginCheckout(ctx, sessions.PendingCheckout{
		CheckoutID: "C2", SessionID: 7, PlanID: "p12h", CreatedAt: time.Now(),
	})
	if d, _ := g.Evaluate(ctx, 7, "oi"); d.Outcome != OutcomePaywall {
		t.Fatal("pending session should see the paywall")
	}

	// Webhook grant arrives between two messages.
	_ = store.Grant(ctx, 7, "p12h", time.Now().Add(time.Hour))

	d, err := g.Evaluate(ctx, 7, "voltei")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomeReply || !d.Entitled {
		t.Fatal("gate must see the grant on the next evaluation")
	}
}

func TestGateUpsellBand(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	// Advance message count into the 5..10 band with neutral messages.
	for i := 0; i < 5; i++ {
		if d, _ := g.Evaluate(ctx, 8, "conversa normal"); d.Outcome != OutcomeReply {
			t.Fatalf("message %d should pass", i+1)
		}
	}

	d, err := g.Evaluate(ctx, 8, "quero mais de você")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomePaywall || d.Reason != "upsell" {
		t.Fatalf("expected upsell paywall inside the band, got %v (%s)", d.Outcome, d.Reason)
	}
}

func TestGateUpsellOutsideBandIgnored(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	g := testGate(store)

	d, err := g.Evaluate(ctx, 9, "quero mais de você")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != OutcomeReply {
		t.Fatal("upsell keywords before the band must not paywall")
	}
}
