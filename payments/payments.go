// Package payments implements the checkout and reconciliation flow: issuing
// provider checkouts with duplicate protection, turning webhook notifications
// into exactly-once entitlement grants, and sweeping abandoned checkouts.
package payments

import (
	"context"

	"github.com/m3rciful/charmbot/payments/mercadopago"
)

// Provider is the payment-provider surface the flow depends on. Satisfied by
// *mercadopago.Client; faked in tests.
type Provider interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
	GetMerchantOrder(ctx context.Context, id string) (*mercadopago.MerchantOrder, error)
}

// Notifier pushes a message to a session outside the request/reply cycle,
// such as the premium confirmation after a webhook grant.
type Notifier interface {
	Notify(ctx context.Context, sessionID int64, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, sessionID int64, text string) error

func (f NotifierFunc) Notify(ctx context.Context, sessionID int64, text string) error {
	return f(ctx, sessionID, text)
}
