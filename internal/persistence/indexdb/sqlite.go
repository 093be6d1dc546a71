package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
)

var ErrEmptyID = errors.New("indexdb: empty wallet address")

// SQLiteStore is the leaderboard table plus an append-only index of
// progression records. Leaderboard calls are synchronous; journal records
// and change notifications are handed to background goroutines.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time

	// sendMu guards the channels against Close.
	sendMu  sync.RWMutex
	closed  bool
	records chan progression.Record
	changes chan leaderboard.Change

	wg   sync.WaitGroup
	once sync.Once

	subMu   sync.Mutex
	subs    map[int]func(leaderboard.Change)
	nextSub int

	dropChanges atomic.Uint64
	dropRecords atomic.Uint64
	flushFails  atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropChangeTotal   uint64 `json:"drop_change_total"`
	DropJournalTotal  uint64 `json:"drop_journal_total"`
	JournalFlushFails uint64 `json:"journal_flush_fail_total"`
}

func (s *SQLiteStore) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.records),
		QueueCapacity:     cap(s.records),
		DropChangeTotal:   s.dropChanges.Load(),
		DropJournalTotal:  s.dropRecords.Load(),
		JournalFlushFails: s.flushFails.Load(),
	}
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:      db,
		logger:  logger,
		now:     time.Now,
		records: make(chan progression.Record, 4096),
		changes: make(chan leaderboard.Change, 1024),
		subs:    map[int]func(leaderboard.Change){},
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.journalLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.dispatchLoop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			wallet_address TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			xp INTEGER NOT NULL,
			badge_count INTEGER NOT NULL,
			level INTEGER NOT NULL,
			achievement_count INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON leaderboard_entries(xp DESC, badge_count DESC, level DESC, updated_at ASC);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			player_key TEXT NOT NULL,
			type TEXT NOT NULL,
			at INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			xp_gained INTEGER NOT NULL,
			xp INTEGER NOT NULL,
			level INTEGER NOT NULL,
			event_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_key_seq ON events(player_key, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) printf(format string, args ...any) {
	if s != nil && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Close drains pending journal records and change notifications, then closes
// the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.records)
		close(s.changes)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func toMillis(ts string, fallback time.Time) int64 {
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UnixMilli()
		}
	}
	return fallback.UnixMilli()
}

func fromMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// Upsert inserts or replaces the row keyed by r.WalletAddress and emits an
// INSERT or UPDATE change.
func (s *SQLiteStore) Upsert(ctx context.Context, r leaderboard.Row) error {
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
	if r.WalletAddress == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		r.DisplayName = r.WalletAddress
	}
	if r.Level <= 0 {
		r.Level = 1
	}
	ms := toMillis(r.UpdatedAt, s.now())
	r.UpdatedAt = fromMillis(ms)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	old, existed, err := getRow(ctx, tx, r.WalletAddress)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO leaderboard_entries(wallet_address,display_name,xp,badge_count,level,achievement_count,updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(wallet_address) DO UPDATE SET
			display_name=excluded.display_name,
			xp=excluded.xp,
			badge_count=excluded.badge_count,
			level=excluded.level,
			achievement_count=excluded.achievement_count,
			updated_at=excluded.updated_at`,
		r.WalletAddress, r.DisplayName, r.XP, r.BadgeCount, r.Level, r.AchievementCount, ms,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", r.WalletAddress, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	ch := leaderboard.Change{Type: leaderboard.ChangeInsert, New: &r}
	if existed {
		ch.Type = leaderboard.ChangeUpdate
		ch.Old = &old
	}
	s.emit(ch)
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRow(ctx context.Context, q querier, id string) (leaderboard.Row, bool, error) {
	var r leaderboard.Row
	var ms int64
	err := q.QueryRowContext(ctx, `SELECT wallet_address,display_name,xp,badge_count,level,achievement_count,updated_at
		FROM leaderboard_entries WHERE wallet_address=?`, id).
		Scan(&r.WalletAddress, &r.DisplayName, &r.XP, &r.BadgeCount, &r.Level, &r.AchievementCount, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return leaderboard.Row{}, false, nil
	}
	if err != nil {
		return leaderboard.Row{}, false, err
	}
	r.UpdatedAt = fromMillis(ms)
	return r, true, nil
}

// Get returns a single row by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (leaderboard.Row, bool, error) {
	return getRow(ctx, s.db, strings.TrimSpace(id))
}

// Fetch returns up to limit rows in rank order. A limit outside
// 1..MaxEntries reads as MaxEntries.
func (s *SQLiteStore) Fetch(ctx context.Context, limit int) ([]leaderboard.Row, error) {
	if limit <= 0 || limit > leaderboard.MaxEntries {
		limit = leaderboard.MaxEntries
	}
	rows, err := s.db.QueryContext(ctx, `SELECT wallet_address,display_name,xp,badge_count,level,achievement_count,updated_at
		FROM leaderboard_entries
		ORDER BY xp DESC, badge_count DESC, level DESC, updated_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]leaderboard.Row, 0, limit)
	for rows.Next() {
		var r leaderboard.Row
		var ms int64
		if err := rows.Scan(&r.WalletAddress, &r.DisplayName, &r.XP, &r.BadgeCount, &r.Level, &r.AchievementCount, &ms); err != nil {
			return nil, err
		}
		r.UpdatedAt = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard_entries`).Scan(&n)
	return n, err
}

// Delete removes id. Deleting a missing row is not an error and emits nothing.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	old, existed, err := getRow(ctx, tx, id)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE wallet_address=?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.emit(leaderboard.Change{Type: leaderboard.ChangeDelete, Old: &old})
	return nil
}

// Subscribe registers fn for every committed change. fn runs on the
// dispatcher goroutine and must not block for long.
func (s *SQLiteStore) Subscribe(_ context.Context, fn func(leaderboard.Change)) (func(), error) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}, nil
}

func (s *SQLiteStore) emit(ch leaderboard.Change) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- ch:
	default:
		s.dropChanges.Add(1)
		s.printf("indexdb: change queue full; drop %s", ch.Type)
	}
}

func (s *SQLiteStore) dispatchLoop() {
	for ch := range s.changes {
		s.subMu.Lock()
		fns := make([]func(leaderboard.Change), 0, len(s.subs))
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
		s.subMu.Unlock()
		for _, fn := range fns {
			fn(ch)
		}
	}
}

// RecordEvent queues a journal record for indexing. It never blocks; the
// compressed event log stays the source of truth when the index falls behind.
func (s *SQLiteStore) RecordEvent(rec progression.Record) {
	if s == nil {
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.dropRecords.Add(1)
		s.printf("indexdb: journal queue full; drop seq=%d type=%s", rec.Seq, rec.Type)
	}
}

const journalBatch = 256

func (s *SQLiteStore) journalLoop() {
	batch := make([]progression.Record, 0, journalBatch)
	for rec := range s.records {
		batch = append(batch[:0], rec)
	drain:
		for len(batch) < journalBatch {
			select {
			case r, ok := <-s.records:
				if !ok {
					break drain
				}
				batch = append(batch, r)
			default:
				break drain
			}
		}
		if err := s.insertRecords(batch); err != nil {
			s.flushFails.Add(1)
			s.printf("indexdb: journal flush failed batch=%d err=%v", len(batch), err)
		}
	}
}

func (s *SQLiteStore) insertRecords(batch []progression.Record) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(seq,player_key,type,at,accepted,xp_gained,xp,level,event_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range batch {
		accepted := 0
		if r.Accepted {
			accepted = 1
		}
		if _, err := stmt.ExecContext(ctx, int64(r.Seq), r.Key, r.Type, r.At.UnixMilli(), accepted, r.XPGained, r.XP, r.Level, string(r.Event)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Events returns indexed records for key in sequence order. An empty key
// matches every player.
func (s *SQLiteStore) Events(ctx context.Context, key string, limit int) ([]progression.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT seq,player_key,type,at,accepted,xp_gained,xp,level,event_json FROM events`
	args := []any{}
	if key != "" {
		q += ` WHERE player_key=?`
		args = append(args, key)
	}
	q += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []progression.Record
	for rows.Next() {
		var r progression.Record
		var seq, at int64
		var accepted int
		var raw string
		if err := rows.Scan(&seq, &r.Key, &r.Type, &at, &accepted, &r.XPGained, &r.XP, &r.Level, &raw); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.At = time.UnixMilli(at).UTC()
		r.Accepted = accepted != 0
		r.Event = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxSeq is the highest journaled sequence number, 0 for an empty journal.
func (s *SQLiteStore) MaxSeq(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// UpsertCatalogs stores the exhibit and quiz catalogs and the applied tuning
// so an index can be matched to the content it was built from.
func (s *SQLiteStore) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, err := json.Marshal(cats.List()); err == nil {
		rows = append(rows, kv{name: "exhibits", digest: cats.Exhibits.Digest, json: b})
	}
	if len(cats.Quizzes.ByExhibit) > 0 {
		if b, err := json.Marshal(cats.Quizzes.ByExhibit); err == nil {
			rows = append(rows, kv{name: "quizzes", digest: cats.Quizzes.Digest, json: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for name, or "" when absent.
func (s *SQLiteStore) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}
