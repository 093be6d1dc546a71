package main

import (
	"fmt"
	"io"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/backup"
	"gallerymaze.ai/internal/persistence/indexdb"
	"gallerymaze.ai/internal/session"
	"gallerymaze.ai/internal/transport/api"
	"gallerymaze.ai/internal/transport/observer"
	"gallerymaze.ai/internal/transport/ws"
)

// metricsSources holds everything /metrics reports on. store, index and
// mirror are nil when the matching feature is off.
type metricsSources struct {
	backend  string
	session  *session.Session
	board    *leaderboard.Board
	syncer   *leaderboard.Syncer
	api      *api.Server
	store    *ws.Server
	index    *indexdb.SQLiteStore
	observer *observer.Server
	mirror   *backup.Mirror
}

func metric(w io.Writer, name, typ, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m metricsSources) {
	p := m.session.State()
	st := m.session.Stats()
	metric(w, "gallerymaze_player_xp", "gauge", "Current player XP.", p.XP)
	metric(w, "gallerymaze_player_level", "gauge", "Current player level.", p.Level)
	metric(w, "gallerymaze_player_visited", "gauge", "Distinct exhibits visited.", p.VisitedDapps.Size())
	metric(w, "gallerymaze_player_badges", "gauge", "Badges claimed.", p.Badges.Size())
	metric(w, "gallerymaze_journal_seq", "counter", "Last journal sequence number.", st.Seq)
	metric(w, "gallerymaze_snapshot_save_fail_total", "counter", "Progress snapshot writes that failed.", st.SaveFails)
	metric(w, "gallerymaze_event_log_fail_total", "counter", "Event log writes that failed.", st.EventLogFails)
	metric(w, "gallerymaze_reset_archived_total", "counter", "Resets whose prior progress was archived.", st.Archived)
	metric(w, "gallerymaze_reset_archive_fail_total", "counter", "Pre-reset archives that failed.", st.ArchiveFails)

	as := m.api.Stats()
	metric(w, "gallerymaze_api_requests_total", "counter", "API requests served.", as.Requests)
	metric(w, "gallerymaze_api_rejected_total", "counter", "API requests answered with an error.", as.Rejected)

	bs := m.board.Snapshot()
	fmt.Fprintf(w, "# HELP gallerymaze_leaderboard_entries Entries held by the in-memory board.\n")
	fmt.Fprintf(w, "# TYPE gallerymaze_leaderboard_entries gauge\n")
	fmt.Fprintf(w, "gallerymaze_leaderboard_entries{backend=%q} %d\n", m.backend, len(bs.Entries))
	realtime := 0
	if bs.RealtimeAttached {
		realtime = 1
	}
	metric(w, "gallerymaze_leaderboard_realtime", "gauge", "1 when the board follows the backend change feed.", realtime)

	ss := m.syncer.Stats()
	metric(w, "gallerymaze_leaderboard_sync_pushed_total", "counter", "Entries pushed to the backend.", ss.Pushed)
	metric(w, "gallerymaze_leaderboard_sync_failed_total", "counter", "Pushes the backend rejected.", ss.Failed)
	metric(w, "gallerymaze_leaderboard_sync_dropped_total", "counter", "Pushes dropped on a full queue.", ss.Dropped)
	metric(w, "gallerymaze_leaderboard_sync_queue_depth", "gauge", "Pushes waiting to be sent.", ss.Queued)

	if m.store != nil {
		fs := m.store.Stats()
		metric(w, "gallerymaze_store_feeds", "gauge", "Open leaderboard change feed connections.", fs.ActiveFeeds)
		metric(w, "gallerymaze_store_changes_sent_total", "counter", "Changes written to feed connections.", fs.ChangesSent)
		metric(w, "gallerymaze_store_changes_dropped_total", "counter", "Changes dropped for slow feed connections.", fs.ChangesDropped)
	}
	if m.index != nil {
		is := m.index.Stats()
		metric(w, "gallerymaze_index_journal_queue_depth", "gauge", "Journal records waiting for the index writer.", is.QueueDepth)
		metric(w, "gallerymaze_index_journal_dropped_total", "counter", "Journal records dropped on a full queue.", is.DropJournalTotal)
		metric(w, "gallerymaze_index_journal_flush_fail_total", "counter", "Journal batches that failed to commit.", is.JournalFlushFails)
		metric(w, "gallerymaze_index_change_dropped_total", "counter", "Change notifications dropped on a full queue.", is.DropChangeTotal)
	}

	metric(w, "gallerymaze_observer_clients", "gauge", "Connected observer websocket clients.", m.observer.Active())
	metric(w, "gallerymaze_observer_dropped_total", "counter", "Updates dropped for slow observers.", m.observer.Dropped())

	if m.mirror != nil {
		b := m.mirror.Stats()
		metric(w, "gallerymaze_backup_queue_depth", "gauge", "Current backup queue depth.", b.QueueDepth)
		metric(w, "gallerymaze_backup_queue_capacity", "gauge", "Backup queue capacity.", b.QueueCapacity)
		metric(w, "gallerymaze_backup_enqueued_total", "counter", "Total backup enqueue attempts.", b.EnqueuedTotal)
		metric(w, "gallerymaze_backup_coalesced_total", "counter", "Enqueues merged into an upload already pending.", b.CoalescedTotal)
		metric(w, "gallerymaze_backup_dropped_total", "counter", "Files dropped because the queue stayed saturated.", b.DroppedTotal)
		metric(w, "gallerymaze_backup_upload_success_total", "counter", "Total successful uploads.", b.UploadSuccessTotal)
		metric(w, "gallerymaze_backup_upload_fail_total", "counter", "Total failed uploads after retry.", b.UploadFailTotal)
		metric(w, "gallerymaze_backup_last_success_unix", "gauge", "Unix timestamp of the last successful upload.", b.LastSuccessUnix)
		metric(w, "gallerymaze_backup_last_error_unix", "gauge", "Unix timestamp of the last failed upload.", b.LastErrorUnix)
	}
}
