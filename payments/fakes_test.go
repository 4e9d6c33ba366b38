package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/m3rciful/charmbot/payments/mercadopago"
)

// fakeProvider serves canned payments/orders and counts calls.
type fakeProvider struct {
	mu sync.Mutex

	prefCalls int
	prefErr   error
	nextPref  int

	payments map[string]*mercadopago.Payment
	orders   map[string]*mercadopago.MerchantOrder

	payErr   error
	orderErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		payments: make(map[string]*mercadopago.Payment),
		orders:   make(map[string]*mercadopago.MerchantOrder),
	}
}

func (f *fakeProvider) CreatePreference(_ context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefCalls++
	if f.prefErr != nil {
		return nil, f.prefErr
	}
	f.nextPref++
	id := fmt.Sprintf("pref-%d", f.nextPref)
	return &mercadopago.Preference{ID: id, InitPoint: "https://pay.example/" + id}, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return nil, f.payErr
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.New("fake: payment not found")
	}
	return p, nil
}

func (f *fakeProvider) GetMerchantOrder(_ context.Context, id string) (*mercadopago.MerchantOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	mo, ok := f.orders[id]
	if !ok {
		return nil, errors.New("fake: order not found")
	}
	return mo, nil
}

func (f *fakeProvider) preferenceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefCalls
}

// fakeNotifier records delivered notifications per session.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fails bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[int64][]string)}
}

func (f *fakeNotifier) Notify(_ context.Context, sessionID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return errors.New("fake: notify failed")
	}
	f.sent[sessionID] = append(f.sent[sessionID], text)
	return nil
}

func (f *fakeNotifier) count(sessionID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[sessionID])
}
