package leaderboard

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Syncer pushes entries to a Board from a single background goroutine so that
// callers never wait on backend I/O. Pending pushes for the same id are
// coalesced to the newest one.
type Syncer struct {
	board   *Board
	logger  *log.Logger
	timeout time.Duration

	ch chan Entry
	wg sync.WaitGroup

	// mu orders sends on ch against close(ch).
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	pushed  atomic.Uint64
	failed  atomic.Uint64
}

func NewSyncer(board *Board, logger *log.Logger) *Syncer {
	s := &Syncer{
		board:   board,
		logger:  logger,
		timeout: 5 * time.Second,
		ch:      make(chan Entry, 256),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

// Push enqueues e. It never blocks; when the queue is full the entry is
// dropped and counted.
func (s *Syncer) Push(e Entry) {
	if s == nil || e.ID == "" {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
		if s.logger != nil {
			s.logger.Printf("leaderboard: sync queue full, dropped %s", e.ID)
		}
	}
}

// Close drains the queue and stops the worker. Pushes after Close are
// ignored.
func (s *Syncer) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type SyncStats struct {
	Pushed  uint64 `json:"pushed"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

func (s *Syncer) Stats() SyncStats {
	if s == nil {
		return SyncStats{}
	}
	return SyncStats{
		Pushed:  s.pushed.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Queued:  len(s.ch),
	}
}

func (s *Syncer) loop() {
	for e := range s.ch {
		batch := map[string]Entry{e.ID: e}
		order := []string{e.ID}
	drain:
		for {
			select {
			case more, ok := <-s.ch:
				if !ok {
					break drain
				}
				if _, seen := batch[more.ID]; !seen {
					order = append(order, more.ID)
				}
				batch[more.ID] = more
			default:
				break drain
			}
		}
		for _, id := range order {
			s.push(batch[id])
		}
	}
}

func (s *Syncer) push(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.board.Upsert(ctx, e); err != nil {
		s.failed.Add(1)
		return
	}
	s.pushed.Add(1)
}
