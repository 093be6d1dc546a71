package progression

import (
	"strings"
	"time"

	"gallerymaze.ai/internal/sim/catalogs"
)

// Event is one input to the state machine.
type Event interface {
	Type() string
}

type VisitEvent struct {
	Exhibit catalogs.Exhibit `json:"exhibit"`
}

type ClaimQuestEvent struct {
	QuestID string `json:"quest_id"`
}

type ClaimBadgeEvent struct {
	ExhibitID string `json:"exhibit_id"`
}

type IdentityEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ResetEvent struct{}

type VoteEvent struct {
	ExhibitID string `json:"exhibit_id"`
}

type CollectEvent struct {
	ExhibitID string `json:"exhibit_id"`
}

// RestoreEvent swaps in previously saved progress, such as the copy kept for
// an identity being switched back to. The guest id stays with the device.
type RestoreEvent struct {
	Progress Progress `json:"progress"`
}

func (VisitEvent) Type() string      { return "visit" }
func (ClaimQuestEvent) Type() string { return "claim_quest" }
func (ClaimBadgeEvent) Type() string { return "claim_badge" }
func (IdentityEvent) Type() string   { return "identity" }
func (ResetEvent) Type() string      { return "reset" }
func (VoteEvent) Type() string       { return "vote" }
func (CollectEvent) Type() string    { return "collect" }
func (RestoreEvent) Type() string    { return "restore" }

// Outcome describes what a transition did.
type Outcome struct {
	// Changed is false when the event was a no-op; the input state is returned as is.
	Changed bool `json:"changed"`
	// Accepted reports success for claims. Always true for other applied events.
	Accepted bool `json:"accepted"`

	NewVisit        bool     `json:"new_visit,omitempty"`
	XPGained        int      `json:"xp_gained,omitempty"`
	LevelBefore     int      `json:"level_before"`
	LevelAfter      int      `json:"level_after"`
	CompletedQuests []string `json:"completed_quests,omitempty"`
	NewAchievements []string `json:"new_achievements,omitempty"`

	// Sync asks the host to push the leaderboard row.
	Sync bool `json:"sync,omitempty"`
}

// Apply runs ev against s and returns the next state. s is never modified.
// Invalid input (empty ids, unknown or stale claims) yields Changed=false.
func Apply(s State, ev Event, env Env) (State, Outcome) {
	out := Outcome{LevelBefore: s.Level, LevelAfter: s.Level}
	next := s.Clone()
	now := env.now()

	switch e := ev.(type) {
	case VisitEvent:
		applyVisit(&next, e.Exhibit, env.Rules, now, &out)
	case ClaimQuestEvent:
		applyClaimQuest(&next, e.QuestID, env.Rules, &out)
	case ClaimBadgeEvent:
		id := strings.TrimSpace(e.ExhibitID)
		if id == "" || next.Badges.Has(id) {
			break
		}
		next.Badges.Put(id)
		out.Changed, out.Accepted, out.Sync = true, true, true
	case IdentityEvent:
		next.LeaderboardID = strings.TrimSpace(e.ID)
		next.LeaderboardName = DisplayName(e.ID, e.Name)
		out.Changed, out.Accepted, out.Sync = true, true, true
	case ResetEvent:
		fresh := NewState(s.GuestID)
		fresh.LeaderboardID = s.LeaderboardID
		fresh.LeaderboardName = s.LeaderboardName
		for _, q := range env.Rules.Quests {
			fresh.QuestProgress[q.ID] = 0
		}
		next = fresh
		out.Changed, out.Accepted, out.Sync = true, true, true
	case VoteEvent:
		id := strings.TrimSpace(e.ExhibitID)
		if id == "" || next.Legacy.Votes.Has(id) {
			break
		}
		next.Legacy.Votes.Put(id)
		if next.Legacy.Votes.Size() >= env.Rules.GlitchVotes {
			next.Legacy.GlitchUnlocked = true
		}
		out.Changed, out.Accepted = true, true
	case CollectEvent:
		id := strings.TrimSpace(e.ExhibitID)
		if id == "" || next.Legacy.Collections.Has(id) {
			break
		}
		next.Legacy.Collections.Put(id)
		if next.Legacy.Collections.Size() >= env.Rules.RecommendationSets {
			next.Legacy.RecommendationsUnlocked = true
		}
		out.Changed, out.Accepted = true, true
	case RestoreEvent:
		next = e.Progress.State()
		next.GuestID = s.GuestID
		out.Changed, out.Accepted = true, true
	}

	if !out.Changed {
		return s, out
	}
	if !replacesState(ev) {
		next.Level = env.Rules.Curve.Level(next.XP)
		out.CompletedQuests = evaluateQuests(&next, env.Rules.Quests)
		out.NewAchievements = scanAchievements(&next, env.Rules.Achievements, env.Catalog, env.Rules.FeedCap, now)
	}
	next.UpdatedAt = now
	out.LevelAfter = next.Level
	return next, out
}

// replacesState reports whether ev swaps the whole state, so levels, quests
// and achievements are taken as they are rather than re-evaluated.
func replacesState(ev Event) bool {
	switch ev.(type) {
	case ResetEvent, RestoreEvent:
		return true
	}
	return false
}

func applyVisit(s *State, ex catalogs.Exhibit, r Rules, now time.Time, out *Outcome) {
	id := strings.TrimSpace(ex.ID)
	if id == "" {
		return
	}
	out.Changed, out.Accepted, out.Sync = true, true, true
	s.VisitLog = append(s.VisitLog, Visit{ID: id, Timestamp: now})
	if s.VisitedDapps.Has(id) {
		return
	}
	out.NewVisit = true
	s.VisitedDapps.Put(id)

	firstInCategory := 0
	seen := map[string]bool{}
	for _, raw := range ex.Categories {
		cat := normalizeCategory(raw)
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		bucket, ok := s.CategoryVisits[cat]
		if !ok {
			bucket = SetOf()
			s.CategoryVisits[cat] = bucket
		}
		bucket.Put(id)
		if bucket.Size() == 1 && bucket.Has(id) {
			firstInCategory++
		}
	}

	gain := r.BaseVisitXP + r.NewCategoryBonusXP*firstInCategory
	if ex.OnlyOnMonad {
		s.OnlyOnMonadVisited.Put(id)
		gain += r.OnlyOnMonadBonusXP
	}
	s.XP += gain
	out.XPGained = gain
}

func applyClaimQuest(s *State, id string, r Rules, out *Outcome) {
	q, ok := findQuest(r.Quests, id)
	if !ok || !s.CompletedQuests[id] || s.ClaimedRewards[id] {
		return
	}
	s.XP += q.XPReward
	s.ClaimedRewards[id] = true
	out.XPGained = q.XPReward
	out.Changed, out.Accepted, out.Sync = true, true, true
}
