package progression

import (
	"log"
	"sync"

	"gallerymaze.ai/internal/sim/catalogs"
)

// Observer is notified after each committed transition, in commit order and
// outside the state lock. next must be treated as read-only.
type Observer interface {
	Observe(ev Event, next State, out Outcome)
}

type ObserverFunc func(ev Event, next State, out Outcome)

func (f ObserverFunc) Observe(ev Event, next State, out Outcome) { f(ev, next, out) }

// Engine owns one player's progression state. All mutations go through
// Dispatch, which applies a pure transition under a single lock so that
// concurrent events never lose updates.
type Engine struct {
	mu    sync.Mutex
	state State
	env   Env

	// notifyMu is taken before mu is released so observers see commits in order.
	notifyMu  sync.Mutex
	observers []Observer

	logger *log.Logger
}

// NewEngine starts from initial. A zero Rules in env means DefaultRules.
func NewEngine(initial State, env Env, logger *log.Logger) *Engine {
	if env.Rules.isZero() {
		env.Rules = DefaultRules()
	}
	return &Engine{state: initial.Clone(), env: env, logger: logger}
}

func (e *Engine) printf(format string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

// AddObserver registers o for all future transitions.
func (e *Engine) AddObserver(o Observer) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.observers = append(e.observers, o)
}

// Dispatch applies ev and notifies observers when the state changed.
func (e *Engine) Dispatch(ev Event) Outcome {
	e.mu.Lock()
	next, out := Apply(e.state, ev, e.env)
	if !out.Changed {
		e.mu.Unlock()
		return out
	}
	e.state = next
	e.notifyMu.Lock()
	e.mu.Unlock()

	observers := e.observers
	for _, o := range observers {
		e.notify(o, ev, next, out)
	}
	e.notifyMu.Unlock()
	return out
}

func (e *Engine) notify(o Observer, ev Event, next State, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.printf("observer panic on %s: %v", ev.Type(), r)
		}
	}()
	o.Observe(ev, next, out)
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Engine) Rules() Rules { return e.env.Rules }

func (e *Engine) RegisterVisit(ex catalogs.Exhibit) Outcome {
	return e.Dispatch(VisitEvent{Exhibit: ex})
}

// ClaimQuestReward grants a completed quest's reward once.
func (e *Engine) ClaimQuestReward(questID string) bool {
	return e.Dispatch(ClaimQuestEvent{QuestID: questID}).Accepted
}

// ClaimBadge grants the badge for exhibitID. Returns false if already held.
func (e *Engine) ClaimBadge(exhibitID string) bool {
	return e.Dispatch(ClaimBadgeEvent{ExhibitID: exhibitID}).Accepted
}

func (e *Engine) SetLeaderboardIdentity(id, displayName string) {
	e.Dispatch(IdentityEvent{ID: id, Name: displayName})
}

func (e *Engine) ResetQuestData() {
	e.Dispatch(ResetEvent{})
}

func (e *Engine) AddVote(exhibitID string) bool {
	return e.Dispatch(VoteEvent{ExhibitID: exhibitID}).Accepted
}

func (e *Engine) AddCollection(exhibitID string) bool {
	return e.Dispatch(CollectEvent{ExhibitID: exhibitID}).Accepted
}

func (e *Engine) LevelInfo() LevelInfo {
	s := e.State()
	return e.env.Rules.Curve.Info(s.XP)
}

func (e *Engine) QuestList() []QuestView {
	s := e.State()
	return QuestList(s, e.env.Rules.Quests)
}
