package leaderboard

import (
	"context"
	"sync"
	"time"
)

// Backend is a store of leaderboard rows keyed by wallet address.
type Backend interface {
	Upsert(ctx context.Context, r Row) error
	// Fetch returns up to limit rows in rank order.
	Fetch(ctx context.Context, limit int) ([]Row, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber is implemented by backends that push change events. The
// returned cancel func stops delivery and is safe to call more than once.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Change)) (cancel func(), err error)
}

// FeedSubscriber is a Subscriber whose feed can end on its own, such as one
// carried over a network connection. onEnd runs once with the cause when that
// happens; it does not run after cancel.
type FeedSubscriber interface {
	SubscribeFeed(ctx context.Context, fn func(Change), onEnd func(error)) (cancel func(), err error)
}

// MemoryBackend is an in-process Backend with change notification.
type MemoryBackend struct {
	mu     sync.Mutex
	rows   map[string]Row
	nextID int
	subs   map[int]func(Change)
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: map[string]Row{}, subs: map[int]func(Change){}, now: time.Now}
}

func (m *MemoryBackend) Upsert(_ context.Context, r Row) error {
	if r.WalletAddress == "" {
		return nil
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = m.now().UTC().Format(time.RFC3339Nano)
	}
	m.mu.Lock()
	old, existed := m.rows[r.WalletAddress]
	m.rows[r.WalletAddress] = r
	subs := m.subscribersLocked()
	m.mu.Unlock()

	ch := Change{Type: ChangeInsert, New: &r}
	if existed {
		ch.Type = ChangeUpdate
		ch.Old = &old
	}
	for _, fn := range subs {
		fn(ch)
	}
	return nil
}

func (m *MemoryBackend) Fetch(_ context.Context, limit int) ([]Row, error) {
	m.mu.Lock()
	rows := make([]Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	m.mu.Unlock()

	entries := FromRows(rows, limit, m.now())
	out := make([]Row, len(entries))
	for i, e := range entries {
		out[i] = e.Row()
	}
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	old, ok := m.rows[id]
	delete(m.rows, id)
	subs := m.subscribersLocked()
	m.mu.Unlock()
	if !ok {
		return nil
	}
	for _, fn := range subs {
		fn(Change{Type: ChangeDelete, Old: &old})
	}
	return nil
}

func (m *MemoryBackend) Subscribe(_ context.Context, fn func(Change)) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *MemoryBackend) subscribersLocked() []func(Change) {
	out := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
