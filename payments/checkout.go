package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/payments/mercadopago"
	"github.com/m3rciful/charmbot/plans"
	"github.com/m3rciful/charmbot/sessions"
)

var (
	// ErrCooldown means a checkout was issued too recently for this session.
	ErrCooldown = errors.New("payments: checkout cooldown active")
	// ErrAlreadyPending means the session already has an unresolved checkout.
	ErrAlreadyPending = errors.New("payments: checkout already pending")
)

// Checkout is the result of a successful issue: the provider checkout id and
// the hosted payment URL to hand to the user.
type Checkout struct {
	ID     string
	PayURL string
	Plan   plans.Plan
}

// Issuer creates provider checkouts for (session, plan) pairs. It enforces
// the per-session cooldown and the single-pending-checkout invariant before
// any provider call is made.
type Issuer struct {
	store           sessions.Store
	provider        Provider
	catalog         *plans.Catalog
	cooldown        time.Duration
	notificationURL string
	now             func() time.Time
}

// NewIssuer wires an issuer. notificationURL may be empty when the provider
// account has a global webhook configured.
func NewIssuer(store sessions.Store, provider Provider, catalog *plans.Catalog, cooldown time.Duration, notificationURL string) *Issuer {
	return &Issuer{
		store:           store,
		provider:        provider,
		catalog:         catalog,
		cooldown:        cooldown,
		notificationURL: notificationURL,
		now:             time.Now,
	}
}

// Issue creates a checkout for the session. The cooldown and pending checks
// both short-circuit without contacting the provider.
func (i *Issuer) Issue(ctx context.Context, sessionID int64, planID string) (*Checkout, error) {
	s, err := i.store.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("payments: issue checkout: %w", err)
	}

	now := i.now()
	if !s.LastCheckoutAt.IsZero() && now.Sub(s.LastCheckoutAt) < i.cooldown {
		logger.Debug(ctx, "payments", "checkout.cooldown",
			slog.Int64("chat_id", sessionID),
			slog.String("plan_id", planID),
		)
		return nil, ErrCooldown
	}
	if s.Pending != nil {
		return nil, ErrAlreadyPending
	}

	plan := i.catalog.Get(planID)
	pref, err := i.provider.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			Title:      plan.Title,
			Quantity:   1,
			UnitPrice:  plan.Amount,
			CurrencyID: "BRL",
		}},
		ExternalReference: strconv.FormatInt(sessionID, 10),
		Metadata:          map[string]string{"plan_id": plan.ID},
		NotificationURL:   i.notificationURL,
	})
	if err != nil {
		logger.Error(ctx, "payments", "checkout.provider_fail",
			slog.Int64("chat_id", sessionID),
			slog.String("plan_id", plan.ID),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("payments: create preference: %w", err)
	}

	err = i.store.BeginCheckout(ctx, sessions.PendingCheckout{
		CheckoutID: pref.ID,
		SessionID:  sessionID,
		PlanID:     plan.ID,
		CreatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, sessions.ErrPendingExists) {
			// Lost a race with a concurrent issue for the same session. The
			// provider-side preference is abandoned; the winner's stands.
			logger.Warn(ctx, "payments", "checkout.race_lost",
				slog.Int64("chat_id", sessionID),
				slog.String("checkout_id", pref.ID),
			)
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("payments: record pending: %w", err)
	}

	logger.Info(ctx, "payments", "checkout.issued",
		slog.Int64("chat_id", sessionID),
		slog.String("checkout_id", pref.ID),
		slog.String("plan_id", plan.ID),
		slog.Float64("amount", plan.Amount),
	)
	return &Checkout{ID: pref.ID, PayURL: pref.InitPoint, Plan: plan}, nil
}
