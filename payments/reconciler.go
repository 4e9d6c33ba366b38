package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/payments/mercadopago"
	"github.com/m3rciful/charmbot/plans"
	"github.com/m3rciful/charmbot/sessions"
)

// Notification is the provider-agnostic shape of an inbound webhook: a topic
// and an object id. The payload carries no trusted status; the reconciler
// always re-fetches the authoritative object.
type Notification struct {
	Topic string
	ID    string
}

const (
	TopicPayment       = "payment"
	TopicMerchantOrder = "merchant_order"
)

// Reconciler resolves provider notifications to sessions and applies
// entitlement grants at most once per approved payment id. It is safe under
// concurrent duplicate deliveries of the same notification.
type Reconciler struct {
	store    sessions.Store
	provider Provider
	catalog  *plans.Catalog
	notifier Notifier
	now      func() time.Time
}

// NewReconciler wires a reconciler. notifier may be nil; grants then happen
// silently.
func NewReconciler(store sessions.Store, provider Provider, catalog *plans.Catalog, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		catalog:  catalog,
		notifier: notifier,
		now:      time.Now,
	}
}

// Process handles one notification. Errors are terminal for this delivery
// only; the provider redelivers and reconciliation is safely re-driven.
func (r *Reconciler) Process(ctx context.Context, n Notification) error {
	switch normalizeTopic(n.Topic) {
	case TopicPayment:
		_, err := r.reconcilePayment(ctx, n.ID, "")
		return err
	case TopicMerchantOrder:
		return r.reconcileOrder(ctx, n.ID)
	default:
		logger.Debug(ctx, "payments", "notification.ignored",
			slog.String("payload", logger.SanitizeLimit(n.Topic, 64)),
		)
		return nil
	}
}

func normalizeTopic(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	switch topic {
	case "payment", "payment.created", "payment.updated":
		return TopicPayment
	case "merchant_order", "topic_merchant_order_wh":
		return TopicMerchantOrder
	}
	return topic
}

// reconcileOrder expands an order-level notification into its payments and
// evaluates each until one resolves to an activation.
func (r *Reconciler) reconcileOrder(ctx context.Context, orderID string) error {
	mo, err := r.provider.GetMerchantOrder(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "payments", "order.fetch_fail",
			slog.String("order_id", orderID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("payments: fetch order %s: %w", orderID, err)
	}

	for _, p := range mo.Payments {
		activated, err := r.reconcilePayment(ctx, mercadopago.FormatID(p.ID), mo.PreferenceID)
		if err != nil {
			logger.Warn(ctx, "payments", "order.payment_fail",
				slog.String("order_id", orderID),
				slog.String("payment_id", mercadopago.FormatID(p.ID)),
				slog.String("err", err.Error()),
			)
			continue
		}
		if activated {
			return nil
		}
	}
	return nil
}

// reconcilePayment fetches the authoritative payment and applies the grant
// flow. preferenceID, when known from an order expansion, feeds the pending
// record fallback. Reports whether the payment resolved to an activation.
func (r *Reconciler) reconcilePayment(ctx context.Context, paymentID, preferenceID string) (bool, error) {
	pay, err := r.provider.GetPayment(ctx, paymentID)
	if err != nil {
		logger.Warn(ctx, "payments", "payment.fetch_fail",
			slog.String("payment_id", paymentID),
			slog.String("err", err.Error()),
		)
		return false, fmt.Errorf("payments: fetch payment %s: %w", paymentID, err)
	}

	sessionID, planID, pending, ok := r.resolve(ctx, pay, preferenceID)
	if !ok {
		logger.Warn(ctx, "payments", "payment.unresolvable",
			slog.String("payment_id", paymentID),
			slog.String("payment_status", pay.Status),
			slog.String("external_reference", logger.SanitizeLimit(pay.ExternalReference, 64)),
		)
		return false, nil
	}
	ctx = logger.WithChatID(ctx, sessionID)

	switch {
	case pay.Status == mercadopago.StatusApproved:
		return r.applyGrant(ctx, pay, sessionID, planID)

	case mercadopago.TerminalFailure(pay.Status):
		if pending != nil {
			if err := r.store.DropPending(ctx, pending.CheckoutID); err != nil {
				return false, fmt.Errorf("payments: drop pending %s: %w", pending.CheckoutID, err)
			}
		}
		logger.Info(ctx, "payments", "payment.terminal",
			slog.String("payment_id", paymentID),
			slog.String("payment_status", pay.Status),
		)
		return false, nil

	default:
		logger.Debug(ctx, "payments", "payment.pending",
			slog.String("payment_id", paymentID),
			slog.String("payment_status", pay.Status),
		)
		return false, nil
	}
}

// resolve maps a payment back to its session and plan. The explicit
// external_reference set at checkout time wins; the pending record keyed by
// the preference id is the fallback. When both resolve and disagree, the
// explicit reference is trusted and the mismatch logged.
func (r *Reconciler) resolve(ctx context.Context, pay *mercadopago.Payment, preferenceID string) (int64, string, *sessions.PendingCheckout, bool) {
	var (
		refSession int64
		refOK      bool
	)
	if pay.ExternalReference != "" {
		if id, err := strconv.ParseInt(pay.ExternalReference, 10, 64); err == nil {
			refSession = id
			refOK = true
		}
	}

	var pending *sessions.PendingCheckout
	if preferenceID == "" && pay.Order.ID != 0 {
		// Payment-level notification: the pending record is keyed by the
		// preference id, reachable only through the merchant order.
		if mo, err := r.provider.GetMerchantOrder(ctx, mercadopago.FormatID(pay.Order.ID)); err == nil {
			preferenceID = mo.PreferenceID
		}
	}
	if preferenceID != "" {
		if pc, found, err := r.store.PendingByCheckout(ctx, preferenceID); err == nil && found {
			pending = &pc
		}
	}

	planID := pay.Metadata["plan_id"]

	switch {
	case refOK && pending != nil:
		if pending.SessionID != refSession {
			logger.Warn(ctx, "payments", "correlation.mismatch",
				slog.Int64("chat_id", refSession),
				slog.String("checkout_id", pending.CheckoutID),
				slog.String("external_reference", pay.ExternalReference),
			)
			pending = nil
		}
		if planID == "" && pending != nil {
			planID = pending.PlanID
		}
		return refSession, planID, pending, true
	case refOK:
		return refSession, planID, nil, true
	case pending != nil:
		if planID == "" {
			planID = pending.PlanID
		}
		return pending.SessionID, planID, pending, true
	}
	return 0, "", nil, false
}

// applyGrant runs the idempotency gate and, for the first delivery of an
// approved payment, extends the entitlement and emits the one-time user
// notification plus the deduplicated conversion event.
func (r *Reconciler) applyGrant(ctx context.Context, pay *mercadopago.Payment, sessionID int64, planID string) (bool, error) {
	paymentID := mercadopago.FormatID(pay.ID)

	first, err := r.store.MarkPaymentProcessed(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("payments: mark processed %s: %w", paymentID, err)
	}
	if !first {
		logger.Info(ctx, "payments", "payment.duplicate",
			slog.Int64("chat_id", sessionID),
			slog.String("payment_id", paymentID),
			slog.String("status", "duplicate"),
		)
		return true, nil
	}

	plan := r.catalog.Get(planID)
	now := r.now()

	// A distinct approved payment stacks on top of any remaining time.
	base := now
	if s, err := r.store.Snapshot(ctx, sessionID); err == nil && s.EntitlementExpiry.After(now) {
		base = s.EntitlementExpiry
	}
	expiry := base.Add(plan.Duration)

	if err := r.store.Grant(ctx, sessionID, plan.ID, expiry); err != nil {
		// Roll the dedup mark back so the redelivery retries the grant
		// instead of being dropped as a duplicate.
		if unmarkErr := r.store.UnmarkPaymentProcessed(ctx, paymentID); unmarkErr != nil {
			logger.Error(ctx, "payments", "grant.unmark_fail",
				slog.String("payment_id", paymentID),
				slog.String("err", unmarkErr.Error()),
			)
		}
		return false, fmt.Errorf("payments: grant session %d: %w", sessionID, err)
	}

	logger.Info(ctx, "payments", "payment.granted",
		slog.Int64("chat_id", sessionID),
		slog.String("payment_id", paymentID),
		slog.String("plan_id", plan.ID),
		slog.Float64("amount", pay.TransactionAmount),
		slog.Time("expires_at", expiry),
	)

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, sessionID, grantMessage(plan, expiry)); err != nil {
			logger.Warn(ctx, "payments", "grant.notify_fail",
				slog.Int64("chat_id", sessionID),
				slog.String("err", err.Error()),
			)
		}
	}

	firstConv, err := r.store.MarkConversionSent(ctx, paymentID)
	if err != nil {
		logger.Warn(ctx, "payments", "conversion.mark_fail",
			slog.String("payment_id", paymentID),
			slog.String("err", err.Error()),
		)
	} else if firstConv {
		logger.Info(ctx, "payments", "conversion.tracked",
			slog.Int64("chat_id", sessionID),
			slog.String("payment_id", paymentID),
			slog.String("plan_id", plan.ID),
			slog.Float64("amount", pay.TransactionAmount),
		)
	}
	return true, nil
}

func grantMessage(plan plans.Plan, expiry time.Time) string {
	return fmt.Sprintf(
		"Pagamento confirmado 💕 Seu acesso %s está liberado até %s.",
		plan.Title, expiry.Format("02/01 15:04"),
	)
}
