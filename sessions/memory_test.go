package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBeginCheckoutEnforcesSinglePending(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	pc := PendingCheckout{CheckoutID: "C1", SessionID: 1, PlanID: "p12h", CreatedAt: time.Now()}
	if err := m.BeginCheckout(ctx, pc); err != nil {
		t.Fatalf("first BeginCheckout: %v", err)
	}

	pc2 := pc
	pc2.CheckoutID = "C2"
	if err := m.BeginCheckout(ctx, pc2); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}

	s, _ := m.Snapshot(ctx, 1)
	if s.Pending == nil || s.Pending.CheckoutID != "C1" {
		t.Fatalf("expected C1 to remain pending, got %+v", s.Pending)
	}
	if s.State != StateAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %v", s.State)
	}
}

func TestBeginCheckoutConcurrentOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc := PendingCheckout{
				CheckoutID: string(rune('A' + i)),
				SessionID:  7,
				PlanID:     "p12h",
				CreatedAt:  time.Now(),
			}
			if err := m.BeginCheckout(ctx, pc); err == nil {
				wins <- pc.CheckoutID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
}

func TestMarkPaymentProcessedOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	first, err := m.MarkPaymentProcessed(ctx, "P1")
	if err != nil || !first {
		t.Fatalf("expected first=true, got first=%v err=%v", first, err)
	}
	again, err := m.MarkPaymentProcessed(ctx, "P1")
	if err != nil || again {
		t.Fatalf("expected first=false on duplicate, got %v err=%v", again, err)
	}
	other, _ := m.MarkPaymentProcessed(ctx, "P2")
	if !other {
		t.Fatal("distinct payment id should be first")
	}
}

func TestUnmarkPaymentProcessedReopensDedup(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	if first, _ := m.MarkPaymentProcessed(ctx, "P1"); !first {
		t.Fatal("expected first=true")
	}
	if err := m.UnmarkPaymentProcessed(ctx, "P1"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if first, _ := m.MarkPaymentProcessed(ctx, "P1"); !first {
		t.Fatal("unmarked payment id should be first again")
	}
	if err := m.UnmarkPaymentProcessed(ctx, "never-marked"); err != nil {
		t.Fatalf("unmark of unknown id must be a no-op, got %v", err)
	}
}

func TestGrantClearsPendingAndCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	_ = m.BeginCheckout(ctx, PendingCheckout{CheckoutID: "C1", SessionID: 1, PlanID: "p12h", CreatedAt: time.Now()})
	_, _, _ = m.RecordMessage(ctx, 1, true)
	_, _, _ = m.RecordMessage(ctx, 1, true)

	expiry := time.Now().Add(12 * time.Hour)
	if err := m.Grant(ctx, 1, "p12h", expiry); err != nil {
		t.Fatalf("grant: %v", err)
	}

	s, _ := m.Snapshot(ctx, 1)
	if s.State != StatePremium {
		t.Fatalf("expected premium, got %v", s.State)
	}
	if !s.EntitlementExpiry.Equal(expiry) || s.EntitledPlanID != "p12h" {
		t.Fatalf("entitlement not applied: %+v", s)
	}
	if s.Pending != nil || !s.LastCheckoutAt.IsZero() {
		t.Fatal("pending and cooldown should be cleared")
	}
	if s.EscalationCount != 0 || s.MessageCount != 0 {
		t.Fatal("counters should be reset on grant")
	}
	if _, found, _ := m.PendingByCheckout(ctx, "C1"); found {
		t.Fatal("pending record should be removed on grant")
	}
}

func TestLazyExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)
	now := time.Now()

	_ = m.Grant(ctx, 1, "p12h", now.Add(-time.Minute))

	expired, err := m.LazyExpire(ctx, 1, now)
	if err != nil || !expired {
		t.Fatalf("expected expiry, got expired=%v err=%v", expired, err)
	}

	s, _ := m.Snapshot(ctx, 1)
	if !s.EntitlementExpiry.IsZero() || s.EntitledPlanID != "" {
		t.Fatal("entitlement fields should be cleared")
	}
	if s.State != StateAwaitingPayment {
		t.Fatalf("expected awaiting_payment after expiry, got %v", s.State)
	}

	// Second evaluation is a no-op.
	expired, _ = m.LazyExpire(ctx, 1, now)
	if expired {
		t.Fatal("already-expired session should not expire twice")
	}
}

func TestLazyExpireFutureEntitlementUntouched(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)
	now := time.Now()

	_ = m.Grant(ctx, 1, "p12h", now.Add(time.Hour))
	if expired, _ := m.LazyExpire(ctx, 1, now); expired {
		t.Fatal("unexpired entitlement must not be cleared")
	}
}

func TestDropPendingClearsSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	_ = m.BeginCheckout(ctx, PendingCheckout{CheckoutID: "C2", SessionID: 3, PlanID: "p12h", CreatedAt: time.Now()})
	if err := m.DropPending(ctx, "C2"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	s, _ := m.Snapshot(ctx, 3)
	if s.Pending != nil {
		t.Fatal("pending should be cleared")
	}
	if !s.LastCheckoutAt.IsZero() {
		t.Fatal("cooldown anchor should be cleared so a fresh checkout is allowed")
	}
	if s.State != StateFree {
		t.Fatalf("expected free after release, got %v", s.State)
	}

	// Unknown checkout ids are a no-op.
	if err := m.DropPending(ctx, "missing"); err != nil {
		t.Fatalf("drop missing: %v", err)
	}
}

func TestStalePending(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)
	t0 := time.Now().Add(-2 * time.Hour)

	_ = m.BeginCheckout(ctx, PendingCheckout{CheckoutID: "old", SessionID: 1, PlanID: "p12h", CreatedAt: t0})
	_ = m.BeginCheckout(ctx, PendingCheckout{CheckoutID: "new", SessionID: 2, PlanID: "p12h", CreatedAt: time.Now()})

	stale, err := m.StalePending(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].CheckoutID != "old" {
		t.Fatalf("expected only the old record, got %+v", stale)
	}
}

func TestWindowBounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(4)

	for i := 0; i < 10; i++ {
		_ = m.AppendTurn(ctx, 1, "user", "msg")
	}
	s, _ := m.Snapshot(ctx, 1)
	if len(s.Window) != 4 {
		t.Fatalf("expected window of 4, got %d", len(s.Window))
	}
}

func TestResetClearsVolatileState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(20)

	_, _, _ = m.RecordMessage(ctx, 1, true)
	_ = m.AppendTurn(ctx, 1, "user", "oi")
	_ = m.EnterAwaitingPayment(ctx, 1)

	if err := m.Reset(ctx, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s, _ := m.Snapshot(ctx, 1)
	if s.MessageCount != 0 || s.EscalationCount != 0 || len(s.Window) != 0 {
		t.Fatalf("volatile state not cleared: %+v", s)
	}
	if s.State != StateFree {
		t.Fatalf("expected free after reset, got %v", s.State)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{StateFree, EventPaywall, StateAwaitingPayment, true},
		{StateAwaitingPayment, EventPaywall, StateAwaitingPayment, true},
		{StatePremium, EventPaywall, StatePremium, false},
		{StateFree, EventGrant, StatePremium, true},
		{StateAwaitingPayment, EventGrant, StatePremium, true},
		{StatePremium, EventGrant, StatePremium, true},
		{StatePremium, EventExpire, StateAwaitingPayment, true},
		{StateFree, EventExpire, StateFree, false},
		{StateAwaitingPayment, EventRelease, StateFree, true},
		{StatePremium, EventRelease, StatePremium, false},
	}
	for _, tc := range cases {
		got, ok := Transition(tc.from, tc.ev)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Transition(%v, %v) = (%v, %v), want (%v, %v)",
				tc.from, tc.ev, got, ok, tc.want, tc.ok)
		}
	}
}
