package sessions

import (
	"testing"
	"time"
)

func TestLifecycleStateFollowsDurableRows(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	entitled := Session{State: StateFree, EntitlementExpiry: now.Add(time.Hour)}
	if got := lifecycleState(entitled, now); got != StatePremium {
		t.Fatalf("live entitlement: state = %v, want premium", got)
	}

	expired := Session{State: StatePremium, EntitlementExpiry: now.Add(-time.Minute)}
	if got := lifecycleState(expired, now); got != StatePremium {
		t.Fatalf("expired entitlement must not be re-derived here, got %v", got)
	}

	pc := PendingCheckout{CheckoutID: "pref-1", SessionID: 1}
	pending := Session{State: StateFree, Pending: &pc}
	if got := lifecycleState(pending, now); got != StateAwaitingPayment {
		t.Fatalf("pending checkout: state = %v, want awaiting payment", got)
	}

	free := Session{State: StateFree}
	if got := lifecycleState(free, now); got != StateFree {
		t.Fatalf("bare session: state = %v, want free", got)
	}
}
