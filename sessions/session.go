// Package sessions owns per-conversation state: the entitlement lifecycle,
// pending checkout records, usage counters and the bounded chat window.
package sessions

import (
	"fmt"
	"time"
)

// State is the authoritative session lifecycle state.
type State int

const (
	// StateFree is the initial state: the user converses within free limits.
	StateFree State = iota
	// StateAwaitingPayment means the paywall was shown; a checkout may be live.
	StateAwaitingPayment
	// StatePremium means a paid entitlement is active and unexpired.
	StatePremium
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StatePremium:
		return "premium"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives state transitions.
type Event int

const (
	// EventPaywall fires when the gate decides the session must see the paywall.
	EventPaywall Event = iota
	// EventGrant fires when the reconciler applies an approved payment.
	EventGrant
	// EventExpire fires on lazy detection of an elapsed entitlement.
	EventExpire
	// EventRelease fires when a stale checkout is swept or the session is reset.
	EventRelease
)

func (e Event) String() string {
	switch e {
	case EventPaywall:
		return "paywall"
	case EventGrant:
		return "grant"
	case EventExpire:
		return "expire"
	case EventRelease:
		return "release"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition is the single authority on state changes. Illegal transitions
// return the current state unchanged with ok=false; callers treat that as
// "nothing to do", not an error. EventGrant is accepted from every state:
// a payment can land while the session is mid-conversation.
func Transition(cur State, ev Event) (State, bool) {
	switch ev {
	case EventGrant:
		return StatePremium, true
	case EventPaywall:
		if cur == StateFree || cur == StateAwaitingPayment {
			return StateAwaitingPayment, true
		}
	case EventExpire:
		if cur == StatePremium {
			return StateAwaitingPayment, true
		}
	case EventRelease:
		if cur == StateAwaitingPayment {
			return StateFree, true
		}
	}
	return cur, false
}

// Turn is one entry of the bounded conversation window.
type Turn struct {
	Role string
	Text string
}

// PendingCheckout links a provider checkout back to its owning session.
// The checkout id is the only valid correlation key.
type PendingCheckout struct {
	CheckoutID string
	SessionID  int64
	PlanID     string
	CreatedAt  time.Time
}

// Session is a snapshot of one conversation's state. Mutations go through
// the Store; a Session value is never written back wholesale.
type Session struct {
	ID                int64
	State             State
	EntitlementExpiry time.Time
	EntitledPlanID    string
	Pending           *PendingCheckout
	MessageCount      int
	EscalationCount   int
	LastCheckoutAt    time.Time
	Window            []Turn
}

// Entitled reports whether the session holds an unexpired entitlement at now.
func (s *Session) Entitled(now time.Time) bool {
	return !s.EntitlementExpiry.IsZero() && now.Before(s.EntitlementExpiry)
}
