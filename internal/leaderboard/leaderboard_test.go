package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func TestSort_OrderingExample(t *testing.T) {
	entries := []Entry{
		{ID: "a", XP: 100, BadgeCount: 2},
		{ID: "b", XP: 100, BadgeCount: 5},
		{ID: "c", XP: 90, BadgeCount: 9},
	}
	Sort(entries)
	var got []int
	for _, e := range entries {
		got = append(got, e.BadgeCount)
	}
	if fmt.Sprint(got) != "[5 2 9]" {
		t.Fatalf("badge order=%v want [5 2 9]", got)
	}
}

func TestSort_TieBreaks(t *testing.T) {
	entries := []Entry{
		{ID: "late", XP: 10, BadgeCount: 1, Level: 2, UpdatedAt: t0.Add(time.Minute)},
		{ID: "low-level", XP: 10, BadgeCount: 1, Level: 1, UpdatedAt: t0},
		{ID: "early", XP: 10, BadgeCount: 1, Level: 2, UpdatedAt: t0},
	}
	Sort(entries)
	if entries[0].ID != "early" || entries[1].ID != "late" || entries[2].ID != "low-level" {
		t.Fatalf("order=%v", entries)
	}
}

func TestNormalize_Fallbacks(t *testing.T) {
	e := Normalize(Row{WalletAddress: "0xabc"}, t0)
	if e.ID != "0xabc" || e.Name != "0xabc" || e.Level != 1 || !e.UpdatedAt.Equal(t0) {
		t.Fatalf("entry=%+v", e)
	}
	e = Normalize(Row{WalletAddress: "x", DisplayName: "Ada", Level: 4, XP: -5, UpdatedAt: "2024-05-01T10:00:00Z"}, t0)
	if e.Name != "Ada" || e.Level != 4 || e.XP != 0 || e.UpdatedAt.Year() != 2024 {
		t.Fatalf("entry=%+v", e)
	}
	e = Normalize(Row{WalletAddress: "x", UpdatedAt: "yesterday"}, t0)
	if !e.UpdatedAt.Equal(t0) {
		t.Fatalf("bad timestamp should fall back to now, got %v", e.UpdatedAt)
	}
}

func TestMerge_ReplacesInPlaceAndCaps(t *testing.T) {
	var entries []Entry
	for i := 0; i < MaxEntries+10; i++ {
		entries = Merge(entries, Entry{ID: fmt.Sprint(i), XP: i}, MaxEntries)
	}
	if len(entries) != MaxEntries {
		t.Fatalf("len=%d want %d", len(entries), MaxEntries)
	}
	if entries[0].XP != MaxEntries+9 {
		t.Fatalf("top=%+v", entries[0])
	}
	entries = Merge(entries, Entry{ID: "50", XP: 1000}, MaxEntries)
	count := 0
	for _, e := range entries {
		if e.ID == "50" {
			count++
		}
	}
	if count != 1 || entries[0].ID != "50" {
		t.Fatalf("upsert duplicated or misplaced: count=%d top=%s", count, entries[0].ID)
	}
}

func TestApplyChange(t *testing.T) {
	entries := []Entry{{ID: "a", XP: 10}, {ID: "b", XP: 5}}
	entries = ApplyChange(entries, Change{Type: ChangeUpdate, New: &Row{WalletAddress: "b", XP: 50}}, 10, t0)
	if entries[0].ID != "b" || entries[0].XP != 50 || len(entries) != 2 {
		t.Fatalf("after update=%+v", entries)
	}
	entries = ApplyChange(entries, Change{Type: ChangeDelete, Old: &Row{WalletAddress: "a"}}, 10, t0)
	if len(entries) != 1 || entries[0].ID != "b" {
		t.Fatalf("after delete=%+v", entries)
	}
	entries = ApplyChange(entries, Change{Type: ChangeInsert}, 10, t0)
	if len(entries) != 1 {
		t.Fatalf("empty change mutated entries")
	}
}

type failingBackend struct{ err error }

func (f failingBackend) Upsert(context.Context, Row) error           { return f.err }
func (f failingBackend) Fetch(context.Context, int) ([]Row, error)   { return nil, f.err }
func (f failingBackend) Delete(context.Context, string) error        { return f.err }

func TestBoard_BackendFailureIsCapturedAsState(t *testing.T) {
	b := NewBoard(failingBackend{err: errors.New("connection refused")}, BoardOptions{Now: fixedNow})
	ctx := context.Background()

	if err := b.Fetch(ctx); err == nil {
		t.Fatalf("expected fetch error")
	}
	st := b.Snapshot()
	if !st.Initialized || st.Loading || !strings.Contains(st.Error, "connection refused") {
		t.Fatalf("state=%+v", st)
	}

	_ = b.Upsert(ctx, Entry{ID: "me", XP: 10})
	st = b.Snapshot()
	if len(st.Entries) != 1 || st.Entries[0].ID != "me" || st.Error == "" {
		t.Fatalf("local entry should survive backend failure: %+v", st)
	}
}

func TestBoard_LocalOnly(t *testing.T) {
	b := NewBoard(nil, BoardOptions{Now: fixedNow})
	ctx := context.Background()
	if err := b.Fetch(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	_ = b.Upsert(ctx, Entry{ID: "a", XP: 5})
	_ = b.Upsert(ctx, Entry{ID: "b", XP: 7})
	_ = b.Upsert(ctx, Entry{ID: "a", XP: 9})
	st := b.Snapshot()
	if st.RemoteEnabled || len(st.Entries) != 2 || st.Entries[0].ID != "a" || st.Entries[0].Name != "a" {
		t.Fatalf("state=%+v", st)
	}
	_ = b.Remove(ctx, "a")
	if st := b.Snapshot(); len(st.Entries) != 1 {
		t.Fatalf("remove failed: %+v", st)
	}
	if _, err := b.AttachRealtime(ctx); !errors.Is(err, ErrNoRealtime) {
		t.Fatalf("attach err=%v want ErrNoRealtime", err)
	}
}

func TestBoard_RealtimeMergesExternalWrites(t *testing.T) {
	mem := NewMemoryBackend()
	ctx := context.Background()
	_ = mem.Upsert(ctx, Row{WalletAddress: "seed", XP: 1})

	b := NewBoard(mem, BoardOptions{Now: fixedNow})
	if err := b.Fetch(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	detach, err := b.AttachRealtime(ctx)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	again, err := b.AttachRealtime(ctx)
	if err != nil || again == nil {
		t.Fatalf("second attach: %v", err)
	}

	_ = mem.Upsert(ctx, Row{WalletAddress: "other", DisplayName: "Other", XP: 40})
	st := b.Snapshot()
	if !st.RealtimeAttached || len(st.Entries) != 2 || st.Entries[0].ID != "other" {
		t.Fatalf("state after external insert=%+v", st)
	}
	_ = mem.Delete(ctx, "seed")
	if st := b.Snapshot(); len(st.Entries) != 1 {
		t.Fatalf("external delete not applied: %+v", st)
	}

	detach()
	detach()
	again()
	if b.Snapshot().RealtimeAttached {
		t.Fatalf("still attached after detach")
	}
	_ = mem.Upsert(ctx, Row{WalletAddress: "late", XP: 99})
	if st := b.Snapshot(); len(st.Entries) != 1 {
		t.Fatalf("change delivered after detach: %+v", st)
	}
}

type recordingBackend struct {
	mu   sync.Mutex
	rows []Row
}

func (r *recordingBackend) Upsert(_ context.Context, row Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *recordingBackend) Fetch(context.Context, int) ([]Row, error) { return nil, nil }
func (r *recordingBackend) Delete(context.Context, string) error      { return nil }

func TestSyncer_DeliversLatestPerID(t *testing.T) {
	rec := &recordingBackend{}
	b := NewBoard(rec, BoardOptions{Now: fixedNow})
	s := NewSyncer(b, log.New(&strings.Builder{}, "", 0))
	for xp := 1; xp <= 20; xp++ {
		s.Push(Entry{ID: "me", XP: xp})
	}
	s.Push(Entry{ID: ""})
	s.Close()
	s.Push(Entry{ID: "after-close", XP: 1})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.rows) == 0 {
		t.Fatalf("nothing pushed")
	}
	last := rec.rows[len(rec.rows)-1]
	if last.WalletAddress != "me" || last.XP != 20 {
		t.Fatalf("last row=%+v want me/20", last)
	}
	for _, r := range rec.rows {
		if r.WalletAddress == "after-close" || r.WalletAddress == "" {
			t.Fatalf("unexpected row %+v", r)
		}
	}
	st := s.Stats()
	if st.Pushed != uint64(len(rec.rows)) || st.Failed != 0 {
		t.Fatalf("stats=%+v rows=%d", st, len(rec.rows))
	}
}

func TestSyncer_PushRacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := NewSyncer(NewBoard(nil, BoardOptions{Now: fixedNow}), nil)
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					s.Push(Entry{ID: fmt.Sprintf("p%d", g), XP: i})
				}
			}(g)
		}
		s.Close()
		s.Close()
		wg.Wait()
	}
}
