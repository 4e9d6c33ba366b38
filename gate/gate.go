// Package gate decides, per inbound message, whether the session gets a
// conversational reply or the paywall.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/plans"
	"github.com/m3rciful/charmbot/sessions"
)

// Outcome is the gate's verdict for one inbound message.
type Outcome int

const (
	// OutcomeReply lets normal reply generation proceed.
	OutcomeReply Outcome = iota
	// OutcomePaywall replaces the reply with the plan-selection prompt.
	OutcomePaywall
)

// Decision carries the verdict plus the context handlers need to act on it.
type Decision struct {
	Outcome Outcome
	// Reason is set for paywall outcomes: expired, pending, escalation, upsell.
	Reason string
	// Entitled and Caps are set for reply outcomes.
	Entitled bool
	Caps     plans.Capability
	Window   []sessions.Turn
}

// Config tunes the escalation signals.
type Config struct {
	// EscalationThreshold is the escalation-counter value that triggers the
	// paywall.
	EscalationThreshold int
	// UpsellBandLow/High bound the message-count band where the secondary
	// classifier may trigger a natural upsell.
	UpsellBandLow  int
	UpsellBandHigh int
}

// Gate evaluates inbound messages against the session's entitlement and
// escalation state. It mutates counters but never issues checkouts; those
// are created lazily when the user picks a plan.
type Gate struct {
	store     sessions.Store
	catalog   *plans.Catalog
	escalates *Classifier
	upsells   *Classifier
	cfg       Config
	now       func() time.Time
}

// New wires a gate. Nil classifiers never match.
func New(store sessions.Store, catalog *plans.Catalog, escalates, upsells *Classifier, cfg Config) *Gate {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 4
	}
	return &Gate{
		store:     store,
		catalog:   catalog,
		escalates: escalates,
		upsells:   upsells,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Evaluate runs the decision ladder for one inbound user message.
// First match wins: lazy expiry, active entitlement, existing paywall state,
// escalation signals, normal reply.
func (g *Gate) Evaluate(ctx context.Context, sessionID int64, text string) (Decision, error) {
	now := g.now()

	justExpired, err := g.store.LazyExpire(ctx, sessionID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: lazy expire: %w", err)
	}

	s, err := g.store.Snapshot(ctx, sessionID)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: snapshot: %w", err)
	}

	if s.Entitled(now) {
		plan := g.catalog.Get(s.EntitledPlanID)
		return Decision{
			Outcome:  OutcomeReply,
			Entitled: true,
			Caps:     plan.Caps,
			Window:   s.Window,
		}, nil
	}

	if justExpired || s.Pending != nil || s.State == sessions.StateAwaitingPayment {
		reason := "pending"
		if justExpired {
			reason = "expired"
		}
		g.logDecision(ctx, sessionID, s, OutcomePaywall, reason)
		return Decision{Outcome: OutcomePaywall, Reason: reason}, nil
	}

	escalated := g.escalates.Match(text)
	msgs, escalations, err := g.store.RecordMessage(ctx, sessionID, escalated)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: record message: %w", err)
	}

	if escalations >= g.cfg.EscalationThreshold {
		if err := g.store.EnterAwaitingPayment(ctx, sessionID); err != nil {
			return Decision{}, fmt.Errorf("gate: enter awaiting: %w", err)
		}
		g.logDecision(ctx, sessionID, s, OutcomePaywall, "escalation")
		return Decision{Outcome: OutcomePaywall, Reason: "escalation"}, nil
	}

	if msgs >= g.cfg.UpsellBandLow && msgs <= g.cfg.UpsellBandHigh && g.upsells.MatchAny(text, s.Window) {
		if err := g.store.EnterAwaitingPayment(ctx, sessionID); err != nil {
			return Decision{}, fmt.Errorf("gate: enter awaiting: %w", err)
		}
		g.logDecision(ctx, sessionID, s, OutcomePaywall, "upsell")
		return Decision{Outcome: OutcomePaywall, Reason: "upsell"}, nil
	}

	return Decision{Outcome: OutcomeReply, Window: s.Window}, nil
}

func (g *Gate) logDecision(ctx context.Context, sessionID int64, s sessions.Session, out Outcome, reason string) {
	outcome := "reply"
	if out == OutcomePaywall {
		outcome = "paywall"
	}
	logger.Debug(ctx, "gate", "gate.decision",
		slog.Int64("chat_id", sessionID),
		slog.String("session_state", s.State.String()),
		slog.String("outcome", outcome),
		slog.String("cause", reason),
		slog.Int("message_count", s.MessageCount),
		slog.Int("escalation", s.EscalationCount),
	)
}
