package subscriptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
)

type memoryState struct {
	plans         map[int64]Plan
	subscriptions map[int64]Subscription
	redemptions   []Redemption
	nextID        int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		plans:         make(map[int64]Plan, len(s.plans)),
		subscriptions: make(map[int64]Subscription, len(s.subscriptions)),
		redemptions:   append([]Redemption(nil), s.redemptions...),
		nextID:        s.nextID,
	}
	for k, v := range s.plans {
		v.Items = append([]Entitlement(nil), v.Items...)
		out.plans[k] = v
	}
	for k, v := range s.subscriptions {
		out.subscriptions[k] = v
	}
	return out
}

type memoryRepo struct {
	stock *ledgertest.Memory

	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo(stock *ledgertest.Memory) *memoryRepo {
	return &memoryRepo{stock: stock, state: memoryState{
		plans:         make(map[int64]Plan),
		subscriptions: make(map[int64]Subscription),
	}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.stock.Atomic(func(store ledger.Store) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		snapshot := m.state.clone()
		if err := fn(ctx, &memoryTx{Store: store, m: m}); err != nil {
			m.state = snapshot
			return err
		}
		return nil
	})
}

func (m *memoryRepo) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *memoryRepo) GetPlan(_ context.Context, id int64) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	p.Items = append([]Entitlement(nil), p.Items...)
	return p, nil
}

func (m *memoryRepo) ListPlans(_ context.Context, activeOnly bool) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Plan
	for _, p := range m.state.plans {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetSubscription(_ context.Context, id int64) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.subscriptions[id]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return s, nil
}

func (m *memoryRepo) FindByCode(_ context.Context, code string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.state.subscriptions {
		if s.Code == code {
			return s, nil
		}
	}
	return Subscription{}, ErrSubscriptionNotFound
}

func (m *memoryRepo) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Code != "" {
		for _, existing := range m.state.subscriptions {
			if existing.Code == s.Code {
				return ErrDuplicateCode
			}
		}
	}
	s.ID = m.id()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.state.subscriptions[s.ID] = *s
	return nil
}

func (m *memoryRepo) ListRedemptions(_ context.Context, subscriptionID int64) ([]Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Redemption
	for _, r := range m.state.redemptions {
		if r.SubscriptionID == subscriptionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRepo) RedeemedTotals(_ context.Context, subscriptionID int64) (map[ItemKey]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals(subscriptionID), nil
}

func (m *memoryRepo) totals(subscriptionID int64) map[ItemKey]int64 {
	out := make(map[ItemKey]int64)
	for _, r := range m.state.redemptions {
		if r.SubscriptionID == subscriptionID {
			out[ItemKey{ProductID: r.ProductID, VariantID: r.VariantID}] += r.Quantity
		}
	}
	return out
}

func (m *memoryRepo) MarkExpired(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state.subscriptions[id]
	if s.Status == StatusActive {
		s.Status, s.UpdatedAt = StatusExpired, at
		m.state.subscriptions[id] = s
	}
	return nil
}

func (m *memoryRepo) ExpireDue(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.state.subscriptions {
		if s.Status == StatusActive && s.EndDate.Before(today) {
			s.Status = StatusExpired
			m.state.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) status(id int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.subscriptions[id].Status
}

// memoryTx runs with memoryRepo.mu held by WithTx.
type memoryTx struct {
	ledger.Store
	m *memoryRepo
}

func (t *memoryTx) LockSubscription(_ context.Context, id int64) (Subscription, error) {
	s, ok := t.m.state.subscriptions[id]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return s, nil
}

func (t *memoryTx) SetStatus(_ context.Context, id int64, status Status, at time.Time) error {
	s := t.m.state.subscriptions[id]
	s.Status, s.UpdatedAt = status, at
	t.m.state.subscriptions[id] = s
	return nil
}

func (t *memoryTx) PlanItems(_ context.Context, planID int64) ([]Entitlement, error) {
	return append([]Entitlement(nil), t.m.state.plans[planID].Items...), nil
}

func (t *memoryTx) RedeemedTotals(_ context.Context, subscriptionID int64) (map[ItemKey]int64, error) {
	return t.m.totals(subscriptionID), nil
}

func (t *memoryTx) InsertRedemption(_ context.Context, r *Redemption) error {
	r.ID = t.m.id()
	t.m.state.redemptions = append(t.m.state.redemptions, *r)
	return nil
}

func (t *memoryTx) InsertPlan(_ context.Context, p *Plan) error {
	p.ID = t.m.id()
	p.CreatedAt = time.Now().UTC()
	for i := range p.Items {
		p.Items[i].ID = t.m.id()
		p.Items[i].PlanID = p.ID
	}
	stored := *p
	stored.Items = append([]Entitlement(nil), p.Items...)
	t.m.state.plans[p.ID] = stored
	return nil
}
