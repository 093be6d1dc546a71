// Package session hosts one gallery visitor: the static world, the
// progression engine and everything that observes it.
package session

import (
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/archive"
	"gallerymaze.ai/internal/persistence/snapshot"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
)

// DeviceKey is the snapshot key of the active progression.
const DeviceKey = "device"

var (
	ErrAnswerRequired = errors.New("quiz answer required")
	ErrWrongAnswer    = errors.New("wrong quiz answer")
)

// Journal receives every committed transition. *indexdb.SQLiteStore
// satisfies it.
type Journal interface {
	RecordEvent(rec progression.Record)
}

// RecordWriter appends transitions to a durable log. *log.EventLogger
// satisfies it.
type RecordWriter interface {
	WriteRecord(rec progression.Record) error
}

type Options struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	// QuizSeed generates a quiz per exhibit when the catalog ships none.
	// Empty disables generation and badge claims are ungated.
	QuizSeed string

	Store   *snapshot.FileStore
	Events  RecordWriter
	Journal Journal
	Syncer  *leaderboard.Syncer
	Board   *leaderboard.Board

	// PerIdentity keeps a separate progression per leaderboard identity.
	PerIdentity bool
	// LastSeq continues journal numbering across restarts.
	LastSeq uint64

	// ArchiveDir receives a copy of the stored progress before each reset.
	// Empty disables archiving. OnArchived sees every file written there.
	ArchiveDir string
	OnArchived func(path string)

	Now    func() time.Time
	Logger *log.Logger
}

type Session struct {
	world  *World
	cats   *catalogs.Catalogs
	rules  progression.Rules
	engine *progression.Engine

	store       *snapshot.FileStore
	events      RecordWriter
	journal     Journal
	syncer      *leaderboard.Syncer
	board       *leaderboard.Board
	perIdentity bool
	archiveDir  string
	onArchived  func(path string)
	now         func() time.Time
	logger      *log.Logger

	switchMu  sync.Mutex
	seq       atomic.Uint64
	saveFails atomic.Uint64
	logFails  atomic.Uint64
	archived  atomic.Uint64
	archFails atomic.Uint64

	watchMu   sync.Mutex
	watchers  map[int]func(Update)
	nextWatch int
}

// Update describes one committed transition to watchers.
type Update struct {
	Seq     uint64              `json:"seq"`
	Event   string              `json:"event"`
	Outcome progression.Outcome `json:"outcome"`
	Player  protocol.PlayerView `json:"player"`
}

func New(opts Options) (*Session, error) {
	cats := opts.Catalogs
	if cats == nil {
		cats = catalogs.FromExhibits(nil)
	}
	if len(cats.Quizzes.ByExhibit) == 0 && opts.QuizSeed != "" {
		if cats.Quizzes.ByExhibit == nil {
			cats.Quizzes.ByExhibit = map[string]catalogs.Quiz{}
		}
		for _, q := range catalogs.GenerateQuizzes(cats, opts.QuizSeed) {
			cats.Quizzes.ByExhibit[q.ExhibitID] = q
		}
	}
	world, err := BuildWorld(opts.Tuning, cats)
	if err != nil {
		return nil, err
	}

	s := &Session{
		world:       world,
		cats:        cats,
		rules:       progression.RulesFromTuning(opts.Tuning.Progression),
		store:       opts.Store,
		events:      opts.Events,
		journal:     opts.Journal,
		syncer:      opts.Syncer,
		board:       opts.Board,
		perIdentity: opts.PerIdentity,
		archiveDir:  opts.ArchiveDir,
		onArchived:  opts.OnArchived,
		now:         opts.Now,
		logger:      opts.Logger,
		watchers:    map[int]func(Update){},
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.seq.Store(opts.LastSeq)

	initial, found := s.loadInitial()
	s.engine = progression.NewEngine(initial, progression.Env{
		Rules:   s.rules,
		Catalog: cats,
		Now:     opts.Now,
	}, opts.Logger)
	s.engine.AddObserver(progression.ObserverFunc(s.observe))

	if !found {
		s.save(DeviceKey, initial)
	}
	if initial.XP > 0 || initial.LeaderboardID != "" {
		s.syncer.Push(EntryFor(initial))
	}
	return s, nil
}

func (s *Session) printf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func newGuestID() string { return "guest-" + uuid.NewString() }

func (s *Session) loadInitial() (progression.State, bool) {
	if s.store != nil {
		st, ok, err := s.store.Load(DeviceKey)
		if err != nil {
			s.printf("session: load progress: %v (starting fresh)", err)
		}
		if ok {
			if st.GuestID == "" {
				st.GuestID = newGuestID()
				return st, false
			}
			return st, true
		}
	}
	return progression.NewState(newGuestID()), false
}

func (s *Session) save(key string, st progression.State) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(key, st); err != nil {
		s.saveFails.Add(1)
		s.printf("session: save %s: %v", key, err)
	}
}

// identityKey is where a per-identity copy of st is kept.
func (s *Session) identityKey(st progression.State) string {
	if !s.perIdentity {
		return DeviceKey
	}
	return st.RowID()
}

func (s *Session) observe(ev progression.Event, next progression.State, out progression.Outcome) {
	key := s.identityKey(next)
	s.save(DeviceKey, next)
	if key != DeviceKey {
		s.save(key, next)
	}

	// The device snapshot mirrors the active state, so the journal stays on
	// one key across identity switches.
	seq := s.seq.Add(1)
	rec, err := progression.NewRecord(seq, DeviceKey, ev, next, out)
	if err != nil {
		s.printf("session: journal %s: %v", ev.Type(), err)
	} else {
		if s.events != nil {
			if err := s.events.WriteRecord(rec); err != nil {
				s.logFails.Add(1)
				s.printf("session: event log: %v", err)
			}
		}
		if s.journal != nil {
			s.journal.RecordEvent(rec)
		}
	}

	if fns := s.watchersSnapshot(); len(fns) > 0 {
		u := Update{Seq: seq, Event: ev.Type(), Outcome: out, Player: View(next, s.rules)}
		for _, fn := range fns {
			fn(u)
		}
	}

	if out.Sync {
		s.syncer.Push(EntryFor(next))
	}
}

// Watch calls fn after every committed transition, on the committing
// goroutine. fn must not block. The returned cancel is idempotent.
func (s *Session) Watch(fn func(Update)) func() {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

func (s *Session) watchersSnapshot() []func(Update) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	out := make([]func(Update), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func (s *Session) World() *World                { return s.world }
func (s *Session) Catalogs() *catalogs.Catalogs { return s.cats }
func (s *Session) Rules() progression.Rules     { return s.rules }
func (s *Session) State() progression.State     { return s.engine.State() }
func (s *Session) Player() protocol.PlayerView  { return View(s.engine.State(), s.rules) }
func (s *Session) Board() *leaderboard.Board    { return s.board }
func (s *Session) Engine() *progression.Engine  { return s.engine }

func (s *Session) respond(out progression.Outcome) protocol.OutcomeResponse {
	return protocol.OutcomeResponse{
		OK:      out.Changed && out.Accepted,
		Outcome: out,
		Player:  s.Player(),
	}
}

// Visit records an exhibit visit. The catalog entry wins over the
// client's description when the id is known.
func (s *Session) Visit(req protocol.VisitRequest) protocol.OutcomeResponse {
	id := strings.TrimSpace(req.ExhibitID)
	ex, ok := s.cats.Exhibit(id)
	if !ok {
		ex = catalogs.Exhibit{
			ID:          id,
			Name:        req.Name,
			Categories:  req.Categories,
			OnlyOnMonad: req.OnlyOnMonad,
		}
	}
	return s.respond(s.engine.RegisterVisit(ex))
}

func (s *Session) ClaimQuest(questID string) protocol.OutcomeResponse {
	return s.respond(s.engine.Dispatch(progression.ClaimQuestEvent{QuestID: strings.TrimSpace(questID)}))
}

// Quiz returns the question gating exhibitID's badge.
func (s *Session) Quiz(exhibitID string) (protocol.QuizView, bool) {
	q, ok := s.cats.Quiz(strings.TrimSpace(exhibitID))
	if !ok {
		return protocol.QuizView{}, false
	}
	return protocol.QuizView{ExhibitID: q.ExhibitID, Question: q.Question, Options: q.Options}, true
}

// ClaimBadge grants the exhibit's badge once its quiz is answered correctly.
// Exhibits without a quiz are granted directly.
func (s *Session) ClaimBadge(req protocol.ClaimBadgeRequest) (protocol.OutcomeResponse, error) {
	id := strings.TrimSpace(req.ExhibitID)
	var result *protocol.QuizResult
	if q, ok := s.cats.Quiz(id); ok {
		if req.Answer == nil {
			return protocol.OutcomeResponse{Player: s.Player()}, ErrAnswerRequired
		}
		result = &protocol.QuizResult{Correct: q.Correct(*req.Answer), Explanation: q.Explanation}
		if !result.Correct {
			return protocol.OutcomeResponse{Player: s.Player(), Quiz: result}, ErrWrongAnswer
		}
	}
	resp := s.respond(s.engine.Dispatch(progression.ClaimBadgeEvent{ExhibitID: id}))
	resp.Quiz = result
	return resp, nil
}

// SetIdentity switches the leaderboard identity. Progress carries over unless
// per-identity storage is on and the new identity has saved progress of its
// own, in which case that progress is restored.
func (s *Session) SetIdentity(req protocol.IdentityRequest) protocol.OutcomeResponse {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	id := strings.TrimSpace(req.ID)
	cur := s.engine.State()
	if s.perIdentity && s.store != nil && id != cur.LeaderboardID {
		key := id
		if key == "" {
			key = cur.GuestID
		}
		saved, ok, err := s.store.Load(key)
		if err != nil {
			s.printf("session: load progress for %s: %v", key, err)
		}
		if ok {
			s.engine.Dispatch(progression.RestoreEvent{Progress: progression.ProgressOf(saved)})
		}
	}
	return s.respond(s.engine.Dispatch(progression.IdentityEvent{ID: id, Name: req.Name}))
}

// Reset wipes progression but keeps identity. The stored snapshot is
// archived first when an archive directory is configured.
func (s *Session) Reset() protocol.OutcomeResponse {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.archiveBeforeReset(s.engine.State())
	return s.respond(s.engine.Dispatch(progression.ResetEvent{}))
}

func (s *Session) archiveBeforeReset(prev progression.State) {
	if s.store == nil || s.archiveDir == "" {
		return
	}
	paths, err := archive.ArchiveProgress(s.archiveDir, s.store.Path(DeviceKey), prev.RowID(), prev, s.now())
	if err != nil {
		s.archFails.Add(1)
		s.printf("session: archive before reset: %v", err)
	}
	for _, p := range paths {
		if s.onArchived != nil {
			s.onArchived(p)
		}
	}
	if len(paths) > 0 {
		s.archived.Add(1)
		s.printf("session: archived progress xp=%d to %s", prev.XP, paths[0])
	}
}

func (s *Session) Vote(exhibitID string) protocol.OutcomeResponse {
	return s.respond(s.engine.Dispatch(progression.VoteEvent{ExhibitID: exhibitID}))
}

func (s *Session) Collect(exhibitID string) protocol.OutcomeResponse {
	return s.respond(s.engine.Dispatch(progression.CollectEvent{ExhibitID: exhibitID}))
}

// Quests lists every quest against the current state.
func (s *Session) Quests() protocol.QuestsResponse {
	st := s.engine.State()
	claimable := progression.Claimable(st, s.rules.Quests)
	if claimable == nil {
		claimable = []string{}
	}
	return protocol.QuestsResponse{Quests: progression.QuestList(st, s.rules.Quests), Claimable: claimable}
}

// Leaderboard returns the board view with the local player's rank.
func (s *Session) Leaderboard() protocol.LeaderboardResponse {
	var resp protocol.LeaderboardResponse
	if s.board == nil {
		resp.Entries = []leaderboard.Entry{}
		return resp
	}
	resp.State = s.board.Snapshot()
	me := s.engine.State().RowID()
	for i, e := range resp.Entries {
		if e.ID == me {
			resp.Rank = i + 1
			break
		}
	}
	return resp
}

type Stats struct {
	Seq           uint64 `json:"seq"`
	SaveFails     uint64 `json:"save_fails"`
	EventLogFails uint64 `json:"event_log_fails"`
	Archived      uint64 `json:"archived"`
	ArchiveFails  uint64 `json:"archive_fails"`
}

func (s *Session) Stats() Stats {
	return Stats{
		Seq:           s.seq.Load(),
		SaveFails:     s.saveFails.Load(),
		EventLogFails: s.logFails.Load(),
		Archived:      s.archived.Load(),
		ArchiveFails:  s.archFails.Load(),
	}
}
