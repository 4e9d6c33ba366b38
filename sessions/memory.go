package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps all session state in process memory behind one mutex.
// It is the default store when no database is configured, and the volatile
// layer (counters, window) of the Postgres-backed store.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[int64]*Session
	pending     map[string]PendingCheckout
	processed   map[string]struct{}
	conversions map[string]struct{}
	windowSize  int
}

// NewMemoryStore returns an empty store. windowSize bounds the conversation
// window; values below 2 fall back to 20.
func NewMemoryStore(windowSize int) *MemoryStore {
	if windowSize < 2 {
		windowSize = 20
	}
	return &MemoryStore{
		sessions:    make(map[int64]*Session),
		pending:     make(map[string]PendingCheckout),
		processed:   make(map[string]struct{}),
		conversions: make(map[string]struct{}),
		windowSize:  windowSize,
	}
}

// session returns the live record, creating it on first touch. Callers hold mu.
func (m *MemoryStore) session(id int64) *Session {
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id, State: StateFree}
		m.sessions[id] = s
	}
	return s
}

func cloneSession(s *Session) Session {
	out := *s
	if s.Pending != nil {
		pc := *s.Pending
		out.Pending = &pc
	}
	if len(s.Window) > 0 {
		out.Window = append([]Turn(nil), s.Window...)
	}
	return out
}

func (m *MemoryStore) Snapshot(_ context.Context, sessionID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.session(sessionID)), nil
}

func (m *MemoryStore) BeginCheckout(_ context.Context, pc PendingCheckout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(pc.SessionID)
	if s.Pending != nil {
		return ErrPendingExists
	}
	rec := pc
	s.Pending = &rec
	s.LastCheckoutAt = pc.CreatedAt
	if next, ok := Transition(s.State, EventPaywall); ok {
		s.State = next
	}
	m.pending[pc.CheckoutID] = rec
	return nil
}

func (m *MemoryStore) PendingByCheckout(_ context.Context, checkoutID string) (PendingCheckout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pending[checkoutID]
	return pc, ok, nil
}

func (m *MemoryStore) DropPending(_ context.Context, checkoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.pending[checkoutID]
	if !ok {
		return nil
	}
	delete(m.pending, checkoutID)

	s := m.session(pc.SessionID)
	if s.Pending != nil && s.Pending.CheckoutID == checkoutID {
		s.Pending = nil
		s.LastCheckoutAt = time.Time{}
		if next, ok := Transition(s.State, EventRelease); ok {
			s.State = next
		}
	}
	return nil
}

func (m *MemoryStore) StalePending(_ context.Context, cutoff time.Time) ([]PendingCheckout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []PendingCheckout
	for _, pc := range m.pending {
		if pc.CreatedAt.Before(cutoff) {
			stale = append(stale, pc)
		}
	}
	return stale, nil
}

func (m *MemoryStore) MarkPaymentProcessed(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.processed[paymentID]; dup {
		return false, nil
	}
	m.processed[paymentID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) UnmarkPaymentProcessed(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, paymentID)
	return nil
}

func (m *MemoryStore) MarkConversionSent(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.conversions[paymentID]; dup {
		return false, nil
	}
	m.conversions[paymentID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Grant(_ context.Context, sessionID int64, planID string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.EntitlementExpiry = expiry
	s.EntitledPlanID = planID
	s.EscalationCount = 0
	s.LastCheckoutAt = time.Time{}
	s.MessageCount = 0
	if s.Pending != nil {
		delete(m.pending, s.Pending.CheckoutID)
		s.Pending = nil
	}
	s.State, _ = Transition(s.State, EventGrant)
	return nil
}

func (m *MemoryStore) LazyExpire(_ context.Context, sessionID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	if s.EntitlementExpiry.IsZero() || now.Before(s.EntitlementExpiry) {
		return false, nil
	}
	s.EntitlementExpiry = time.Time{}
	s.EntitledPlanID = ""
	if next, ok := Transition(s.State, EventExpire); ok {
		s.State = next
	}
	return true, nil
}

func (m *MemoryStore) RecordMessage(_ context.Context, sessionID int64, escalated bool) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.MessageCount++
	if escalated {
		s.EscalationCount++
	}
	return s.MessageCount, s.EscalationCount, nil
}

func (m *MemoryStore) EnterAwaitingPayment(_ context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	if next, ok := Transition(s.State, EventPaywall); ok {
		s.State = next
	}
	s.EscalationCount = 0
	return nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, sessionID int64, role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.Window = append(s.Window, Turn{Role: role, Text: text})
	if over := len(s.Window) - m.windowSize; over > 0 {
		s.Window = append(s.Window[:0], s.Window[over:]...)
	}
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.MessageCount = 0
	s.EscalationCount = 0
	s.Window = nil
	if s.Pending == nil && s.State == StateAwaitingPayment {
		s.State = StateFree
	}
	return nil
}
