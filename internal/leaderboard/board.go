package leaderboard

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State is a read-only view of the board.
type State struct {
	Entries          []Entry `json:"entries"`
	Loading          bool    `json:"loading"`
	Error            string  `json:"error,omitempty"`
	Initialized      bool    `json:"initialized"`
	RemoteEnabled    bool    `json:"remote_enabled"`
	RealtimeAttached bool    `json:"realtime_attached"`
}

type BoardOptions struct {
	MaxEntries int
	Logger     *log.Logger
	Now        func() time.Time
	// RealtimeRetry is the first delay before resubscribing to a feed that
	// ended. It doubles per failed attempt up to maxRealtimeRetry.
	RealtimeRetry time.Duration
}

const (
	defaultRealtimeRetry = 500 * time.Millisecond
	maxRealtimeRetry     = 30 * time.Second
)

// Board is the in-memory ranked list, optionally mirrored to a Backend.
// With a nil backend it is a local-only board.
type Board struct {
	backend Backend
	max     int
	logger  *log.Logger
	now     func() time.Time
	retry   time.Duration

	mu     sync.Mutex
	st     State
	detach func()

	attachMu sync.Mutex
}

func NewBoard(backend Backend, opts BoardOptions) *Board {
	if opts.MaxEntries <= 0 || opts.MaxEntries > MaxEntries {
		opts.MaxEntries = MaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RealtimeRetry <= 0 {
		opts.RealtimeRetry = defaultRealtimeRetry
	}
	return &Board{
		backend: backend,
		max:     opts.MaxEntries,
		logger:  opts.Logger,
		now:     opts.Now,
		retry:   opts.RealtimeRetry,
		st:      State{RemoteEnabled: backend != nil},
	}
}

func (b *Board) printf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}

// Snapshot returns a copy of the current board state.
func (b *Board) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.st
	st.Entries = append([]Entry(nil), b.st.Entries...)
	return st
}

func (b *Board) update(fn func(st *State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.st)
}

// Fetch reloads the board from the backend. Failures are kept in the error
// state and also returned.
func (b *Board) Fetch(ctx context.Context) error {
	if b.backend == nil {
		b.update(func(st *State) { st.Initialized = true })
		return nil
	}
	b.update(func(st *State) {
		st.Loading = true
		st.Error = ""
	})
	rows, err := b.backend.Fetch(ctx, b.max)
	if err != nil {
		b.printf("leaderboard: fetch failed: %v", err)
		b.update(func(st *State) {
			st.Loading = false
			st.Initialized = true
			st.Error = err.Error()
		})
		return err
	}
	entries := FromRows(rows, b.max, b.now())
	b.update(func(st *State) {
		st.Entries = entries
		st.Loading = false
		st.Initialized = true
		st.Error = ""
	})
	return nil
}

// Upsert records e locally, then writes it through to the backend. A backend
// failure leaves the local entry in place and sets the error state.
func (b *Board) Upsert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return nil
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	if e.Level <= 0 {
		e.Level = 1
	}
	e.UpdatedAt = b.now().UTC()

	b.update(func(st *State) { st.Entries = Merge(st.Entries, e, b.max) })
	if b.backend == nil {
		return nil
	}
	if err := b.backend.Upsert(ctx, e.Row()); err != nil {
		b.printf("leaderboard: upsert %s failed: %v", e.ID, err)
		b.update(func(st *State) { st.Error = err.Error() })
		return err
	}
	b.update(func(st *State) { st.Error = "" })
	return nil
}

// Remove deletes id locally and from the backend.
func (b *Board) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	var err error
	if b.backend != nil {
		if err = b.backend.Delete(ctx, id); err != nil {
			b.printf("leaderboard: delete %s failed: %v", id, err)
			b.update(func(st *State) { st.Error = err.Error() })
		}
	}
	b.update(func(st *State) { st.Entries = Without(st.Entries, id) })
	return err
}

// Apply folds an external change into the board in one locked update.
func (b *Board) Apply(ch Change) {
	now := b.now()
	b.update(func(st *State) { st.Entries = ApplyChange(st.Entries, ch, b.max, now) })
}

var ErrNoRealtime = errors.New("leaderboard: backend has no change feed")

// AttachRealtime subscribes to backend change events. Attaching twice is a
// no-op that returns the existing detach func. The detach func is safe to call
// any number of times.
//
// When the feed ends on its own the board clears RealtimeAttached, records the
// cause in Error and resubscribes with backoff until ctx is done or the detach
// func is called. A successful resubscribe reloads the board from the backend.
func (b *Board) AttachRealtime(ctx context.Context) (func(), error) {
	if _, ok := b.backend.(Subscriber); !ok {
		if _, ok := b.backend.(FeedSubscriber); !ok {
			return func() {}, ErrNoRealtime
		}
	}
	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	b.mu.Lock()
	if b.detach != nil {
		d := b.detach
		b.mu.Unlock()
		return d, nil
	}
	b.mu.Unlock()

	link := &realtimeLink{stop: make(chan struct{})}
	cancel, err := b.subscribe(ctx, link)
	if err != nil {
		b.printf("leaderboard: realtime subscribe failed: %v", err)
		b.update(func(st *State) { st.Error = err.Error() })
		return func() {}, err
	}
	link.set(cancel)

	var once sync.Once
	detach := func() {
		once.Do(func() {
			close(link.stop)
			link.cancel()
			b.mu.Lock()
			b.st.RealtimeAttached = false
			b.detach = nil
			b.mu.Unlock()
		})
	}
	b.mu.Lock()
	b.st.RealtimeAttached = true
	b.st.RemoteEnabled = true
	b.detach = detach
	b.mu.Unlock()
	return detach, nil
}

// realtimeLink is one attachment. Its cancel func is swapped on every
// resubscribe.
type realtimeLink struct {
	stop chan struct{}

	mu sync.Mutex
	cf func()
}

func (l *realtimeLink) set(cancel func()) {
	l.mu.Lock()
	l.cf = cancel
	l.mu.Unlock()
}

func (l *realtimeLink) cancel() {
	l.mu.Lock()
	cf := l.cf
	l.mu.Unlock()
	if cf != nil {
		cf()
	}
}

func (l *realtimeLink) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (b *Board) subscribe(ctx context.Context, link *realtimeLink) (func(), error) {
	if fs, ok := b.backend.(FeedSubscriber); ok {
		return fs.SubscribeFeed(ctx, b.Apply, func(err error) { b.feedEnded(ctx, link, err) })
	}
	return b.backend.(Subscriber).Subscribe(ctx, b.Apply)
}

func (b *Board) feedEnded(ctx context.Context, link *realtimeLink, cause error) {
	if link.stopped() || ctx.Err() != nil {
		return
	}
	msg := "leaderboard: realtime feed ended"
	if cause != nil {
		msg = cause.Error()
	}
	b.printf("leaderboard: realtime feed ended: %v; resubscribing", cause)
	b.update(func(st *State) {
		st.RealtimeAttached = false
		st.Error = msg
	})
	go b.resubscribe(ctx, link)
}

func (b *Board) resubscribe(ctx context.Context, link *realtimeLink) {
	delay := b.retry
	for {
		select {
		case <-ctx.Done():
			return
		case <-link.stop:
			return
		case <-time.After(delay):
		}
		cancel, err := b.subscribe(ctx, link)
		if err != nil {
			b.printf("leaderboard: realtime resubscribe failed: %v", err)
			b.update(func(st *State) { st.Error = err.Error() })
			delay *= 2
			if delay > maxRealtimeRetry {
				delay = maxRealtimeRetry
			}
			continue
		}
		link.set(cancel)
		if link.stopped() {
			cancel()
			return
		}
		b.update(func(st *State) {
			st.RealtimeAttached = true
			st.Error = ""
		})
		if err := b.Fetch(ctx); err != nil {
			b.printf("leaderboard: reload after resubscribe: %v", err)
		}
		return
	}
}
