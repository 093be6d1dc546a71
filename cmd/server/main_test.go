package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"gallerymaze.ai/internal/config"
	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/session"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
	"gallerymaze.ai/internal/transport/api"
	"gallerymaze.ai/internal/transport/observer"
)

func TestOpenLeaderboard_Backends(t *testing.T) {
	dir := t.TempDir()

	rt, err := openLeaderboard(config.Config{LeaderboardBackend: config.BackendNone}, dir, nil)
	if err != nil || rt.backend != nil || rt.store != nil {
		t.Fatalf("none: rt=%+v err=%v", rt, err)
	}

	rt, err = openLeaderboard(config.Config{LeaderboardBackend: config.BackendMemory}, dir, nil)
	if err != nil || rt.backend == nil || rt.store == nil || rt.sqlite != nil {
		t.Fatalf("memory: rt=%+v err=%v", rt, err)
	}

	rt, err = openLeaderboard(config.Config{LeaderboardBackend: config.BackendSQLite}, dir, nil)
	if err != nil || rt.sqlite == nil || rt.store == nil {
		t.Fatalf("sqlite: rt=%+v err=%v", rt, err)
	}
	rt.sqlite.RecordEvent(progression.Record{Seq: 12, Key: "device", Type: "reset"})
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = openLeaderboard(config.Config{LeaderboardBackend: config.BackendSQLite}, dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	seq, err := rt.lastSeq(context.Background(), func() (uint64, error) { return 7, nil })
	if err != nil || seq != 12 {
		t.Fatalf("seq=%d err=%v want 12 from index", seq, err)
	}
	seq, err = rt.lastSeq(context.Background(), func() (uint64, error) { return 30, errors.New("truncated") })
	if err == nil || seq != 30 {
		t.Fatalf("seq=%d err=%v want 30 with error", seq, err)
	}

	rt, err = openLeaderboard(config.Config{LeaderboardBackend: config.BackendRemote, LeaderboardURL: "ftp://x"}, dir, nil)
	if err == nil {
		t.Fatalf("remote with bad scheme accepted: %+v", rt)
	}
}

func TestNewBoard_UsesTunedCap(t *testing.T) {
	rt, err := openLeaderboard(config.Config{LeaderboardBackend: config.BackendMemory}, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tune := tuning.Defaults()
	tune.Leaderboard.MaxEntries = 2
	board := rt.newBoard(tune, nil)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		_ = board.Upsert(ctx, leaderboard.Entry{ID: id, XP: 10 * (i + 1)})
	}
	st := board.Snapshot()
	if len(st.Entries) != 2 || st.Entries[0].ID != "c" || st.Entries[1].ID != "b" {
		t.Fatalf("entries=%+v want c,b", st.Entries)
	}
}

func TestWriteMetrics(t *testing.T) {
	tune := tuning.Defaults()
	tune.Maze.Size = 15
	board := leaderboard.NewBoard(leaderboard.NewMemoryBackend(), leaderboard.BoardOptions{})
	syncer := leaderboard.NewSyncer(board, nil)
	defer syncer.Close()
	sess, err := session.New(session.Options{
		Tuning:   tune,
		Catalogs: catalogs.FromExhibits([]catalogs.Exhibit{{ID: "kuru", Name: "Kuru", Categories: []string{"DeFi"}}}),
		Board:    board,
		Syncer:   syncer,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	sess.Visit(protocol.VisitRequest{ExhibitID: "kuru"})

	var buf bytes.Buffer
	writeMetrics(&buf, metricsSources{
		backend:  "memory",
		session:  sess,
		board:    board,
		syncer:   syncer,
		api:      api.NewServer(sess, nil),
		observer: observer.NewServer(sess, nil),
	})
	out := buf.String()
	for _, want := range []string{
		"gallerymaze_player_xp 30\n",
		"gallerymaze_player_visited 1\n",
		"gallerymaze_journal_seq 1\n",
		"# TYPE gallerymaze_api_requests_total counter\n",
		`gallerymaze_leaderboard_entries{backend="memory"}`,
		"gallerymaze_observer_clients 0\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "gallerymaze_backup_") || strings.Contains(out, "gallerymaze_index_") {
		t.Fatalf("disabled sources reported:\n%s", out)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	if !isLoopbackRemote("127.0.0.1:5000") || isLoopbackRemote("192.168.1.4:80") {
		t.Fatalf("loopback detection wrong")
	}
}
