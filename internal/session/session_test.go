package session

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/archive"
	"gallerymaze.ai/internal/persistence/snapshot"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
)

type recorder struct {
	mu   sync.Mutex
	recs []progression.Record
}

func (r *recorder) RecordEvent(rec progression.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) WriteRecord(rec progression.Record) error {
	r.RecordEvent(rec)
	return nil
}

func (r *recorder) all() []progression.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progression.Record(nil), r.recs...)
}

func testCatalog() *catalogs.Catalogs {
	return catalogs.FromExhibits([]catalogs.Exhibit{
		{ID: "kuru", Name: "Kuru", Categories: []string{"DeFi"}, OnlyOnMonad: true, PopularityScore: 9},
		{ID: "magic", Name: "Magic Eden", Categories: []string{"NFT"}, PopularityScore: 5},
		{ID: "bot", Name: "Bot", Categories: []string{"AI"}, PopularityScore: 3},
	})
}

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Maze.Size = 15
	return t
}

func newTest(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Tuning.Maze.Size == 0 {
		opts.Tuning = testTuning()
	}
	if opts.Catalogs == nil {
		opts.Catalogs = testCatalog()
	}
	if opts.Now == nil {
		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		opts.Now = func() time.Time { return now }
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_AssignsGuestAndPersists(t *testing.T) {
	store := snapshot.NewFileStore(t.TempDir())
	s := newTest(t, Options{Store: store})

	st := s.State()
	if !strings.HasPrefix(st.GuestID, "guest-") || st.RowID() != st.GuestID {
		t.Fatalf("guest id=%q row id=%q", st.GuestID, st.RowID())
	}
	saved, ok, err := store.Load(DeviceKey)
	if err != nil || !ok || saved.GuestID != st.GuestID {
		t.Fatalf("saved ok=%v err=%v guest=%q", ok, err, saved.GuestID)
	}
}

func TestVisit_CatalogWinsAndJournals(t *testing.T) {
	rec := &recorder{}
	s := newTest(t, Options{Journal: rec, Events: rec, LastSeq: 41})

	resp := s.Visit(protocol.VisitRequest{ExhibitID: "kuru", Categories: []string{"Gaming"}})
	if !resp.OK || resp.Outcome.XPGained != 45 {
		t.Fatalf("resp=%+v want 45 xp (base+monad+category)", resp.Outcome)
	}
	if resp.Player.Categories["defi"] != 1 || resp.Player.Categories["gaming"] != 0 {
		t.Fatalf("categories=%v", resp.Player.Categories)
	}

	again := s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	if again.Outcome.XPGained != 0 || again.Player.VisitCount != 2 {
		t.Fatalf("repeat visit=%+v", again.Outcome)
	}

	recs := rec.all()
	// Each commit is written to both sinks.
	if len(recs) != 4 {
		t.Fatalf("records=%d want 4", len(recs))
	}
	if recs[0].Seq != 42 || recs[0].Key != DeviceKey || recs[0].Type != "visit" {
		t.Fatalf("first record=%+v", recs[0])
	}
	if s.Stats().Seq != 43 {
		t.Fatalf("seq=%d want 43", s.Stats().Seq)
	}
}

func TestVisit_UnknownExhibitUsesRequest(t *testing.T) {
	s := newTest(t, Options{})
	resp := s.Visit(protocol.VisitRequest{ExhibitID: "pop-up", Categories: []string{"Infra"}, OnlyOnMonad: true})
	if resp.Outcome.XPGained != 45 {
		t.Fatalf("xp=%d want 45", resp.Outcome.XPGained)
	}
	if empty := s.Visit(protocol.VisitRequest{ExhibitID: "  "}); empty.OK || empty.Outcome.Changed {
		t.Fatalf("empty id should be a no-op: %+v", empty)
	}
}

func TestClaimBadge_QuizGate(t *testing.T) {
	s := newTest(t, Options{QuizSeed: "quiz"})
	q, ok := s.Catalogs().Quiz("kuru")
	if !ok {
		t.Fatalf("no generated quiz for kuru")
	}
	if view, ok := s.Quiz("kuru"); !ok || len(view.Options) != len(q.Options) {
		t.Fatalf("quiz view=%+v", view)
	}

	if _, err := s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "kuru"}); err != ErrAnswerRequired {
		t.Fatalf("err=%v want ErrAnswerRequired", err)
	}
	wrong := (q.AnswerIndex + 1) % len(q.Options)
	resp, err := s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "kuru", Answer: &wrong})
	if err != ErrWrongAnswer || resp.Quiz == nil || resp.Quiz.Correct || len(resp.Player.Badges) != 0 {
		t.Fatalf("wrong answer: err=%v resp=%+v", err, resp)
	}

	right := q.AnswerIndex
	resp, err = s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "kuru", Answer: &right})
	if err != nil || !resp.OK || !resp.Quiz.Correct {
		t.Fatalf("right answer: err=%v resp=%+v", err, resp)
	}
	if len(resp.Player.Badges) != 1 || resp.Player.Achievements[0] != "novice-curator" {
		t.Fatalf("player=%+v", resp.Player)
	}

	resp, err = s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "kuru", Answer: &right})
	if err != nil || resp.OK {
		t.Fatalf("second claim should be a no-op: err=%v ok=%v", err, resp.OK)
	}
}

func TestClaimBadge_NoQuizIsDirect(t *testing.T) {
	s := newTest(t, Options{})
	resp, err := s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "magic"})
	if err != nil || !resp.OK || resp.Quiz != nil {
		t.Fatalf("err=%v resp=%+v", err, resp)
	}
}

func TestQuestClaim(t *testing.T) {
	s := newTest(t, Options{})
	if resp := s.ClaimQuest("first-steps"); resp.OK {
		t.Fatalf("claim before completion accepted")
	}
	s.Visit(protocol.VisitRequest{ExhibitID: "magic"})
	if q := s.Quests(); len(q.Claimable) != 1 || q.Claimable[0] != "first-steps" {
		t.Fatalf("claimable=%v", q.Claimable)
	}
	resp := s.ClaimQuest("first-steps")
	if !resp.OK || resp.Player.Level.XP != 30+20 {
		t.Fatalf("resp=%+v", resp)
	}
	if again := s.ClaimQuest("first-steps"); again.OK {
		t.Fatalf("double claim accepted")
	}
}

func TestSync_PushesRowsToBoard(t *testing.T) {
	board := leaderboard.NewBoard(leaderboard.NewMemoryBackend(), leaderboard.BoardOptions{})
	syncer := leaderboard.NewSyncer(board, nil)
	s := newTest(t, Options{Board: board, Syncer: syncer})

	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	s.SetIdentity(protocol.IdentityRequest{ID: "0x1234567890abcdef"})
	syncer.Close()

	lb := s.Leaderboard()
	if len(lb.Entries) != 2 {
		t.Fatalf("entries=%+v want guest row and identity row", lb.Entries)
	}
	// Both rows tie on score; the guest row was written first.
	if lb.Rank != 2 {
		t.Fatalf("rank=%d want 2", lb.Rank)
	}
	var me leaderboard.Entry
	for _, e := range lb.Entries {
		if e.ID == "0x1234567890abcdef" {
			me = e
		}
	}
	if me.XP != 45 || me.Name != "0x1234...cdef" {
		t.Fatalf("identity row=%+v", me)
	}
}

func TestRestart_RestoresProgressAndGuest(t *testing.T) {
	store := snapshot.NewFileStore(t.TempDir())
	s1 := newTest(t, Options{Store: store})
	s1.Visit(protocol.VisitRequest{ExhibitID: "magic"})
	s1.Vote("magic")
	guest := s1.State().GuestID

	s2 := newTest(t, Options{Store: store})
	st := s2.State()
	if st.GuestID != guest || st.XP != 30 || !st.Legacy.Votes.Has("magic") {
		t.Fatalf("restored=%+v", st)
	}
}

func TestPerIdentity_SwitchRestoresProgress(t *testing.T) {
	store := snapshot.NewFileStore(t.TempDir())
	s := newTest(t, Options{Store: store, PerIdentity: true})

	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	if resp := s.SetIdentity(protocol.IdentityRequest{ID: "alice", Name: "Alice"}); resp.Player.Level.XP != 45 {
		t.Fatalf("progress should carry to a new identity, xp=%d", resp.Player.Level.XP)
	}
	s.Visit(protocol.VisitRequest{ExhibitID: "magic"})

	if resp := s.SetIdentity(protocol.IdentityRequest{}); resp.Player.Level.XP != 45 || resp.Player.LeaderboardID != "" {
		t.Fatalf("guest progress: %+v", resp.Player)
	}
	resp := s.SetIdentity(protocol.IdentityRequest{ID: "alice", Name: "Alice"})
	if resp.Player.Level.XP != 75 || resp.Player.LeaderboardName != "Alice" {
		t.Fatalf("alice progress: %+v", resp.Player)
	}
	if _, ok, _ := store.Load("alice"); !ok {
		t.Fatalf("no per-identity snapshot for alice")
	}
}

func TestReset_KeepsIdentity(t *testing.T) {
	s := newTest(t, Options{})
	s.SetIdentity(protocol.IdentityRequest{ID: "alice", Name: "Alice"})
	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	resp := s.Reset()
	if resp.Player.Level.XP != 0 || resp.Player.Level.Level != 1 || resp.Player.LeaderboardID != "alice" {
		t.Fatalf("after reset: %+v", resp.Player)
	}
	if len(resp.Player.Visited) != 0 {
		t.Fatalf("visits not cleared")
	}
}

func TestReset_PushesZeroedRowToBoard(t *testing.T) {
	board := leaderboard.NewBoard(leaderboard.NewMemoryBackend(), leaderboard.BoardOptions{})
	syncer := leaderboard.NewSyncer(board, nil)
	s := newTest(t, Options{Board: board, Syncer: syncer})

	s.SetIdentity(protocol.IdentityRequest{ID: "alice", Name: "Alice"})
	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	if _, err := s.ClaimBadge(protocol.ClaimBadgeRequest{ExhibitID: "kuru"}); err != nil {
		t.Fatalf("ClaimBadge: %v", err)
	}
	s.Reset()
	syncer.Close()

	var row leaderboard.Entry
	found := false
	for _, e := range board.Snapshot().Entries {
		if e.ID == "alice" {
			row, found = e, true
		}
	}
	if !found {
		t.Fatalf("no row for alice in %+v", board.Snapshot().Entries)
	}
	if row.XP != 0 || row.Level != 1 || row.BadgeCount != 0 {
		t.Fatalf("row after reset=%+v want xp 0, level 1, no badges", row)
	}
}

func TestReset_ArchivesStoredProgress(t *testing.T) {
	dir := t.TempDir()
	store := snapshot.NewFileStore(filepath.Join(dir, "progress"))
	var archived []string
	s := newTest(t, Options{
		Store:      store,
		ArchiveDir: filepath.Join(dir, "archive"),
		OnArchived: func(path string) { archived = append(archived, path) },
	})
	s.SetIdentity(protocol.IdentityRequest{ID: "alice"})
	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	s.Reset()
	if len(archived) != 2 {
		t.Fatalf("archived=%v", archived)
	}
	metas, err := archive.List(filepath.Join(dir, "archive"))
	if err != nil || len(metas) != 1 {
		t.Fatalf("metas=%+v err=%v", metas, err)
	}
	if metas[0].Key != "alice" || metas[0].XP == 0 || metas[0].Visited != 1 {
		t.Fatalf("meta=%+v", metas[0])
	}

	// Nothing left to keep: a second reset archives nothing.
	s.Reset()
	if len(archived) != 2 {
		t.Fatalf("empty reset archived=%v", archived)
	}
}

func TestBuildWorld_Deterministic(t *testing.T) {
	a, err := BuildWorld(testTuning(), testCatalog())
	if err != nil {
		t.Fatalf("BuildWorld: %v", err)
	}
	b, _ := BuildWorld(testTuning(), testCatalog())
	if a.Grid.Digest() != b.Grid.Digest() || len(a.Placements) != 3 {
		t.Fatalf("placements=%d", len(a.Placements))
	}
	for i := range a.Placements {
		if a.Placements[i] != b.Placements[i] {
			t.Fatalf("placement %d differs: %+v vs %+v", i, a.Placements[i], b.Placements[i])
		}
	}
	if _, ok := a.PlacementFor("kuru"); !ok {
		t.Fatalf("kuru not placed")
	}

	bad := testTuning()
	bad.Maze.Size = 8
	if _, err := BuildWorld(bad, nil); err == nil {
		t.Fatalf("even maze size accepted")
	}
}

func TestWatch_ReceivesCommitsUntilCancelled(t *testing.T) {
	s := newTest(t, Options{})
	var got []Update
	cancel := s.Watch(func(u Update) { got = append(got, u) })

	s.Visit(protocol.VisitRequest{ExhibitID: "kuru"})
	s.ClaimQuest("first-steps")
	s.ClaimQuest("first-steps")
	cancel()
	cancel()
	s.Vote("kuru")

	if len(got) != 2 {
		t.Fatalf("updates=%d want 2 (no-ops and post-cancel commits are not delivered)", len(got))
	}
	if got[0].Event != "visit" || got[1].Event != "claim_quest" || got[1].Seq != got[0].Seq+1 {
		t.Fatalf("updates=%+v", got)
	}
	if got[1].Player.Level.XP != 65 {
		t.Fatalf("xp=%d want 65", got[1].Player.Level.XP)
	}
}
