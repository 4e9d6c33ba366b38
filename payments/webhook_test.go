package payments

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/charmbot/sessions"
)

func waitForEntitlement(t *testing.T, store sessions.Store, sessionID int64) sessions.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := store.Snapshot(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if !s.EntitlementExpiry.IsZero() {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("entitlement never applied")
	return sessions.Session{}
}

func TestWebhookQueryFormTriggersReconcile(t *testing.T) {
	store := sessions.NewMemoryStore(20)
	provider := newFakeProvider()
	provider.payments["P1"] = approvedPayment(1, "100", 49.90)

	srv := NewWebhookServer(NewReconciler(store, provider, testCatalog(), nil))

	req, _ := http.NewRequest(http.MethodPost, "/payments/webhook?topic=payment&id=P1", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", resp.StatusCode)
	}

	s := waitForEntitlement(t, store, 100)
	if s.EntitledPlanID != "p12h" {
		t.Fatalf("plan = %q, want p12h", s.EntitledPlanID)
	}
}

func TestWebhookJSONBodyTriggersReconcile(t *testing.T) {
	store := sessions.NewMemoryStore(20)
	provider := newFakeProvider()
	provider.payments["P2"] = approvedPayment(2, "200", 49.90)

	srv := NewWebhookServer(NewReconciler(store, provider, testCatalog(), nil))

	body := `{"type":"payment","data":{"id":"P2"}}`
	req, _ := http.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", resp.StatusCode)
	}

	waitForEntitlement(t, store, 200)
}

func TestWebhookMalformedStillAcked(t *testing.T) {
	store := sessions.NewMemoryStore(20)
	srv := NewWebhookServer(NewReconciler(store, newFakeProvider(), testCatalog(), nil))

	req, _ := http.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader("not json"))
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("malformed payloads are acked with 200, got %d", resp.StatusCode)
	}
}

func TestWebhookHealthz(t *testing.T) {
	srv := NewWebhookServer(NewReconciler(sessions.NewMemoryStore(20), newFakeProvider(), testCatalog(), nil))

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
