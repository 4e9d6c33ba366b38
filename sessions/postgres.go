package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps the durable invariants (entitlements, pending
// checkouts, payment dedup sets) in Postgres and delegates the volatile
// conversation state (counters, window) to an embedded MemoryStore.
// The dedup inserts rely on primary-key conflicts, so duplicate webhook
// deliveries racing on separate connections still produce one winner.
type PostgresStore struct {
	db  *sqlx.DB
	mem *MemoryStore
	now func() time.Time
}

// NewPostgresStore wraps an open sqlx handle. Migrations must have run.
func NewPostgresStore(db *sqlx.DB, windowSize int) *PostgresStore {
	return &PostgresStore{db: db, mem: NewMemoryStore(windowSize), now: time.Now}
}

type entitlementRow struct {
	SessionID int64     `db:"session_id"`
	PlanID    string    `db:"plan_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

type pendingRow struct {
	CheckoutID string    `db:"checkout_id"`
	SessionID  int64     `db:"session_id"`
	PlanID     string    `db:"plan_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r pendingRow) record() PendingCheckout {
	return PendingCheckout{
		CheckoutID: r.CheckoutID,
		SessionID:  r.SessionID,
		PlanID:     r.PlanID,
		CreatedAt:  r.CreatedAt,
	}
}

func (p *PostgresStore) Snapshot(ctx context.Context, sessionID int64) (Session, error) {
	s, err := p.mem.Snapshot(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	var ent entitlementRow
	err = p.db.GetContext(ctx, &ent,
		`SELECT session_id, plan_id, expires_at FROM entitlements WHERE session_id = $1`, sessionID)
	switch {
	case err == nil:
		s.EntitlementExpiry = ent.ExpiresAt
		s.EntitledPlanID = ent.PlanID
	case errors.Is(err, sql.ErrNoRows):
		s.EntitlementExpiry = time.Time{}
		s.EntitledPlanID = ""
	default:
		return Session{}, fmt.Errorf("sessions: load entitlement: %w", err)
	}

	var pend pendingRow
	err = p.db.GetContext(ctx, &pend,
		`SELECT checkout_id, session_id, plan_id, created_at FROM pending_checkouts WHERE session_id = $1`, sessionID)
	switch {
	case err == nil:
		rec := pend.record()
		s.Pending = &rec
		s.LastCheckoutAt = rec.CreatedAt
	case errors.Is(err, sql.ErrNoRows):
		s.Pending = nil
	default:
		return Session{}, fmt.Errorf("sessions: load pending: %w", err)
	}

	// Durable rows decide the lifecycle state; the memory layer only tracks
	// the awaiting-payment intent that precedes a live checkout.
	s.State = lifecycleState(s, p.now())
	return s, nil
}

// lifecycleState derives the state from the durable fields at a point in
// time, keeping the volatile state only when neither entitlement nor a
// pending checkout decides it.
func lifecycleState(s Session, now time.Time) State {
	switch {
	case s.Entitled(now):
		return StatePremium
	case s.Pending != nil:
		return StateAwaitingPayment
	}
	return s.State
}

func (p *PostgresStore) BeginCheckout(ctx context.Context, pc PendingCheckout) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO pending_checkouts (checkout_id, session_id, plan_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		pc.CheckoutID, pc.SessionID, pc.PlanID, pc.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessions: begin checkout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sessions: begin checkout: %w", err)
	}
	if n == 0 {
		return ErrPendingExists
	}
	return p.mem.BeginCheckout(ctx, pc)
}

func (p *PostgresStore) PendingByCheckout(ctx context.Context, checkoutID string) (PendingCheckout, bool, error) {
	var row pendingRow
	err := p.db.GetContext(ctx, &row,
		`SELECT checkout_id, session_id, plan_id, created_at FROM pending_checkouts WHERE checkout_id = $1`, checkoutID)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingCheckout{}, false, nil
	}
	if err != nil {
		return PendingCheckout{}, false, fmt.Errorf("sessions: pending lookup: %w", err)
	}
	return row.record(), true, nil
}

func (p *PostgresStore) DropPending(ctx context.Context, checkoutID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM pending_checkouts WHERE checkout_id = $1`, checkoutID); err != nil {
		return fmt.Errorf("sessions: drop pending: %w", err)
	}
	return p.mem.DropPending(ctx, checkoutID)
}

func (p *PostgresStore) StalePending(ctx context.Context, cutoff time.Time) ([]PendingCheckout, error) {
	var rows []pendingRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT checkout_id, session_id, plan_id, created_at FROM pending_checkouts WHERE created_at < $1`, cutoff); err != nil {
		return nil, fmt.Errorf("sessions: stale pending: %w", err)
	}
	out := make([]PendingCheckout, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (p *PostgresStore) MarkPaymentProcessed(ctx context.Context, paymentID string) (bool, error) {
	return p.insertOnce(ctx,
		`INSERT INTO processed_payments (payment_id, processed_at) VALUES ($1, NOW())
		 ON CONFLICT (payment_id) DO NOTHING`, paymentID)
}

func (p *PostgresStore) UnmarkPaymentProcessed(ctx context.Context, paymentID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM processed_payments WHERE payment_id = $1`, paymentID); err != nil {
		return fmt.Errorf("sessions: unmark processed: %w", err)
	}
	return nil
}

func (p *PostgresStore) MarkConversionSent(ctx context.Context, paymentID string) (bool, error) {
	return p.insertOnce(ctx,
		`INSERT INTO conversion_events (payment_id, sent_at) VALUES ($1, NOW())
		 ON CONFLICT (payment_id) DO NOTHING`, paymentID)
}

func (p *PostgresStore) insertOnce(ctx context.Context, query, paymentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, paymentID)
	if err != nil {
		return false, fmt.Errorf("sessions: dedup insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sessions: dedup insert: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresStore) Grant(ctx context.Context, sessionID int64, planID string, expiry time.Time) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: grant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entitlements (session_id, plan_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET plan_id = EXCLUDED.plan_id, expires_at = EXCLUDED.expires_at`,
		sessionID, planID, expiry); err != nil {
		return fmt.Errorf("sessions: grant entitlement: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_checkouts WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("sessions: grant clear pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sessions: grant commit: %w", err)
	}
	return p.mem.Grant(ctx, sessionID, planID, expiry)
}

func (p *PostgresStore) LazyExpire(ctx context.Context, sessionID int64, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM entitlements WHERE session_id = $1 AND expires_at <= $2`, sessionID, now)
	if err != nil {
		return false, fmt.Errorf("sessions: lazy expire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sessions: lazy expire: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	// Mirror the expiry into the volatile layer so the state machine moves.
	p.mem.mu.Lock()
	s := p.mem.session(sessionID)
	s.EntitlementExpiry = time.Time{}
	s.EntitledPlanID = ""
	if next, ok := Transition(s.State, EventExpire); ok {
		s.State = next
	}
	p.mem.mu.Unlock()
	return true, nil
}

func (p *PostgresStore) RecordMessage(ctx context.Context, sessionID int64, escalated bool) (int, int, error) {
	return p.mem.RecordMessage(ctx, sessionID, escalated)
}

func (p *PostgresStore) EnterAwaitingPayment(ctx context.Context, sessionID int64) error {
	return p.mem.EnterAwaitingPayment(ctx, sessionID)
}

func (p *PostgresStore) AppendTurn(ctx context.Context, sessionID int64, role, text string) error {
	return p.mem.AppendTurn(ctx, sessionID, role, text)
}

func (p *PostgresStore) Reset(ctx context.Context, sessionID int64) error {
	return p.mem.Reset(ctx, sessionID)
}
