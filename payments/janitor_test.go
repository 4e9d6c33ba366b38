package payments

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/charmbot/sessions"
)

func TestSweepDropsStaleAndUnblocksReissue(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	provider := newFakeProvider()

	t0 := time.Now().Add(-time.Hour)
	issuer := NewIssuer(store, provider, testCatalog(), 30*time.Second, "")
	issuer.now = func() time.Time { return t0 }
	if _, err := issuer.Issue(ctx, 3, "p12h"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	ttl := 30 * time.Minute
	jan := NewJanitor(store, ttl)
	jan.now = func() time.Time { return t0.Add(ttl + time.Millisecond) }

	swept, err := jan.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	s, _ := store.Snapshot(ctx, 3)
	if s.Pending != nil {
		t.Fatal("stale pending should be cleared")
	}

	// A fresh checkout must now succeed.
	issuer.now = time.Now
	if _, err := issuer.Issue(ctx, 3, "p12h"); err != nil {
		t.Fatalf("re-issue after sweep: %v", err)
	}
}

func TestSweepKeepsFreshPending(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(20)
	provider := newFakeProvider()

	issuer := NewIssuer(store, provider, testCatalog(), 30*time.Second, "")
	if _, err := issuer.Issue(ctx, 4, "p12h"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	jan := NewJanitor(store, time.Hour)
	swept, err := jan.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("fresh pending must survive, swept %d", swept)
	}

	s, _ := store.Snapshot(ctx, 4)
	if s.Pending == nil {
		t.Fatal("fresh pending should remain")
	}
}

func TestJanitorBadSchedule(t *testing.T) {
	jan := NewJanitor(sessions.NewMemoryStore(20), time.Hour)
	if err := jan.Start("not a cron"); err == nil {
		jan.Stop()
		t.Fatal("expected schedule parse error")
	}
}
