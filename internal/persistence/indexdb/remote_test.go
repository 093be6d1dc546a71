package indexdb_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/indexdb"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/transport/ws"
)

func newStoreServer(t *testing.T, token string) (*indexdb.SQLiteStore, *httptest.Server) {
	t.Helper()
	store, err := indexdb.OpenSQLite(t.TempDir()+"/store.sqlite", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mux := http.NewServeMux()
	ws.NewServer(store, token, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return store, srv
}

func TestRemoteStore_RoundTrip(t *testing.T) {
	_, srv := newStoreServer(t, "tok")
	remote, err := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: srv.URL + "/", Token: "tok", HTTPTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	ctx := context.Background()
	if err := remote.Upsert(ctx, leaderboard.Row{WalletAddress: "0xabc", DisplayName: "Ada", XP: 40, Level: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := remote.Upsert(ctx, leaderboard.Row{WalletAddress: "guest-1", XP: 90, Level: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rows, err := remote.Fetch(ctx, 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 || rows[0].WalletAddress != "guest-1" || rows[1].DisplayName != "Ada" {
		t.Fatalf("rows=%+v", rows)
	}
	if err := remote.Delete(ctx, "guest-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ = remote.Fetch(ctx, 100)
	if len(rows) != 1 {
		t.Fatalf("rows after delete=%d", len(rows))
	}
}

func TestRemoteStore_BadTokenIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	remote, _ := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: srv.URL})
	if err := remote.Upsert(context.Background(), leaderboard.Row{WalletAddress: "a"}); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d want 1", hits.Load())
	}
}

func TestRemoteStore_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	remote, _ := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: srv.URL})
	if err := remote.Upsert(context.Background(), leaderboard.Row{WalletAddress: "a"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d want 3", hits.Load())
	}
}

func TestRemoteStore_FeedDrivesBoard(t *testing.T) {
	store, srv := newStoreServer(t, "")
	ctx := context.Background()
	_ = store.Upsert(ctx, leaderboard.Row{WalletAddress: "early", XP: 5})

	remote, err := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	board := leaderboard.NewBoard(remote, leaderboard.BoardOptions{})
	detach, err := board.AttachRealtime(ctx)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()

	_ = store.Upsert(ctx, leaderboard.Row{WalletAddress: "late", XP: 50})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := board.Snapshot()
		if len(st.Entries) == 2 && st.Entries[0].ID == "late" {
			if !st.RealtimeAttached {
				t.Fatalf("realtime not attached")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("board never converged: %+v", board.Snapshot())
}

// The first feed connection is dropped by the server right after SNAPSHOT.
// The board must report the loss and resubscribe on its own.
func TestRemoteStore_FeedHangupResubscribes(t *testing.T) {
	store, err := indexdb.OpenSQLite(t.TempDir()+"/store.sqlite", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	_ = store.Upsert(ctx, leaderboard.Row{WalletAddress: "early", XP: 5})

	storeMux := http.NewServeMux()
	ws.NewServer(store, "", nil).Register(storeMux)

	var dials atomic.Int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.Handle("/", storeMux)
	mux.HandleFunc("/v1/leaderboard/ws", func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			<-release
			storeMux.ServeHTTP(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		_ = conn.ReadJSON(&sub)
		_ = conn.WriteJSON(protocol.SnapshotMsg{Type: protocol.TypeSnapshot, ProtocolVersion: protocol.Version})
		_ = conn.Close()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	remote, err := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	board := leaderboard.NewBoard(remote, leaderboard.BoardOptions{RealtimeRetry: 10 * time.Millisecond})
	detach, err := board.AttachRealtime(ctx)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()

	waitFor := func(what string, ok func(leaderboard.State) bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if ok(board.Snapshot()) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("%s: state=%+v dials=%d", what, board.Snapshot(), dials.Load())
	}

	waitFor("hangup not reported", func(st leaderboard.State) bool {
		return !st.RealtimeAttached && strings.Contains(st.Error, "feed") && dials.Load() == 2
	})
	if d, err := board.AttachRealtime(ctx); err != nil || d == nil {
		t.Fatalf("re-attach while resubscribing: err=%v", err)
	}

	close(release)
	waitFor("never resubscribed", func(st leaderboard.State) bool {
		return st.RealtimeAttached && st.Error == "" && len(st.Entries) == 1
	})

	_ = store.Upsert(ctx, leaderboard.Row{WalletAddress: "late", XP: 50})
	waitFor("change after resubscribe not applied", func(st leaderboard.State) bool {
		return len(st.Entries) == 2 && st.Entries[0].ID == "late"
	})
	if n := dials.Load(); n != 2 {
		t.Fatalf("dials=%d want 2", n)
	}
}

func TestOpenRemote_Validation(t *testing.T) {
	if _, err := indexdb.OpenRemote(indexdb.RemoteConfig{}); err == nil {
		t.Fatalf("empty endpoint accepted")
	}
	if _, err := indexdb.OpenRemote(indexdb.RemoteConfig{Endpoint: "ftp://x"}); err == nil {
		t.Fatalf("ftp endpoint accepted")
	}
}
