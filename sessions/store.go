package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPendingExists is returned by BeginCheckout when the session already
	// has a live pending checkout.
	ErrPendingExists = errors.New("sessions: pending checkout already exists")
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("sessions: not found")
)

// Store is the shared mutable surface of the system. The contract is that
// BeginCheckout and the Mark* dedup operations are atomic insert-if-absent
// primitives, correct under concurrent duplicate webhook delivery.
type Store interface {
	// Snapshot returns a copy of the session, creating an empty one if absent.
	Snapshot(ctx context.Context, sessionID int64) (Session, error)

	// BeginCheckout records a pending checkout and the cooldown anchor in one
	// atomic step, failing with ErrPendingExists when one is already live.
	BeginCheckout(ctx context.Context, pc PendingCheckout) error

	// PendingByCheckout resolves a checkout id to its record, if live.
	PendingByCheckout(ctx context.Context, checkoutID string) (PendingCheckout, bool, error)

	// DropPending removes a pending record and clears the owning session's
	// pending and cooldown fields so a fresh checkout can be issued.
	DropPending(ctx context.Context, checkoutID string) error

	// StalePending lists pending records created before the cutoff.
	StalePending(ctx context.Context, cutoff time.Time) ([]PendingCheckout, error)

	// MarkPaymentProcessed inserts the payment id into the processed set.
	// It reports true exactly once per distinct id.
	MarkPaymentProcessed(ctx context.Context, paymentID string) (bool, error)

	// UnmarkPaymentProcessed removes a payment id from the processed set.
	// It compensates a grant that failed after the mark, so the provider's
	// redelivery is not swallowed as a duplicate.
	UnmarkPaymentProcessed(ctx context.Context, paymentID string) error

	// MarkConversionSent deduplicates the conversion-tracking side effect,
	// keyed by payment id, independently of the entitlement grant.
	MarkConversionSent(ctx context.Context, paymentID string) (bool, error)

	// Grant applies an approved payment: sets expiry and plan, moves the
	// session to StatePremium and clears pending checkout, cooldown anchor
	// and escalation counter in one step.
	Grant(ctx context.Context, sessionID int64, planID string, expiry time.Time) error

	// LazyExpire clears entitlement fields when the expiry has passed,
	// moving the session to StateAwaitingPayment. Reports whether the
	// entitlement expired on this call.
	LazyExpire(ctx context.Context, sessionID int64, now time.Time) (bool, error)

	// RecordMessage increments the message counter, and the escalation
	// counter when escalated is set. Returns the updated counters.
	RecordMessage(ctx context.Context, sessionID int64, escalated bool) (msgs, escalations int, err error)

	// EnterAwaitingPayment transitions the session to the paywall state and
	// resets the escalation counter. Idempotent.
	EnterAwaitingPayment(ctx context.Context, sessionID int64) error

	// AppendTurn appends to the bounded conversation window.
	AppendTurn(ctx context.Context, sessionID int64, role, text string) error

	// Reset clears counters, window and state back to StateFree. Entitlement
	// fields are left untouched; only a new approved payment may extend them.
	Reset(ctx context.Context, sessionID int64) error
}
