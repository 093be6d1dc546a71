// Package progression is the player progression state machine: visits, XP,
// levels, quests, badges and achievements.
//
// State values are treated as immutable. Apply returns a new State and never
// modifies the one it was given; Engine wraps Apply for the host.
package progression

import (
	"sort"
	"time"

	"github.com/zyedidia/generic/mapset"
)

type Visit struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

type FeedEntry struct {
	ID         string    `json:"id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Legacy holds the flat vote/collection counters that predate quests.
type Legacy struct {
	Votes                   mapset.Set[string]
	Collections             mapset.Set[string]
	GlitchUnlocked          bool
	RecommendationsUnlocked bool
}

type State struct {
	XP    int
	Level int

	VisitedDapps       mapset.Set[string]
	VisitLog           []Visit
	CategoryVisits     map[string]mapset.Set[string]
	OnlyOnMonadVisited mapset.Set[string]

	QuestProgress   map[string]int
	CompletedQuests map[string]bool
	ClaimedRewards  map[string]bool

	Badges          mapset.Set[string]
	Achievements    mapset.Set[string]
	AchievementFeed []FeedEntry

	LeaderboardID   string
	LeaderboardName string
	// GuestID identifies this device on the leaderboard when no identity is set.
	GuestID string

	Legacy    Legacy
	UpdatedAt time.Time
}

// NewState returns the zero snapshot: no XP, level 1, empty sets.
func NewState(guestID string) State {
	return State{
		Level:              1,
		VisitedDapps:       mapset.New[string](),
		CategoryVisits:     map[string]mapset.Set[string]{},
		OnlyOnMonadVisited: mapset.New[string](),
		QuestProgress:      map[string]int{},
		CompletedQuests:    map[string]bool{},
		ClaimedRewards:     map[string]bool{},
		Badges:             mapset.New[string](),
		Achievements:       mapset.New[string](),
		LeaderboardName:    GuestName,
		GuestID:            guestID,
		Legacy: Legacy{
			Votes:       mapset.New[string](),
			Collections: mapset.New[string](),
		},
	}
}

func cloneSet(s mapset.Set[string]) mapset.Set[string] {
	out := mapset.New[string]()
	s.Each(func(k string) { out.Put(k) })
	return out
}

// Clone deep-copies every set, map and slice.
func (s State) Clone() State {
	out := s
	out.VisitedDapps = cloneSet(s.VisitedDapps)
	out.VisitLog = append([]Visit(nil), s.VisitLog...)
	out.CategoryVisits = make(map[string]mapset.Set[string], len(s.CategoryVisits))
	for k, v := range s.CategoryVisits {
		out.CategoryVisits[k] = cloneSet(v)
	}
	out.OnlyOnMonadVisited = cloneSet(s.OnlyOnMonadVisited)
	out.QuestProgress = make(map[string]int, len(s.QuestProgress))
	for k, v := range s.QuestProgress {
		out.QuestProgress[k] = v
	}
	out.CompletedQuests = make(map[string]bool, len(s.CompletedQuests))
	for k, v := range s.CompletedQuests {
		out.CompletedQuests[k] = v
	}
	out.ClaimedRewards = make(map[string]bool, len(s.ClaimedRewards))
	for k, v := range s.ClaimedRewards {
		out.ClaimedRewards[k] = v
	}
	out.Badges = cloneSet(s.Badges)
	out.Achievements = cloneSet(s.Achievements)
	out.AchievementFeed = append([]FeedEntry(nil), s.AchievementFeed...)
	out.Legacy.Votes = cloneSet(s.Legacy.Votes)
	out.Legacy.Collections = cloneSet(s.Legacy.Collections)
	return out
}

// RowID is the leaderboard key for this state: the connected identity, or the
// device guest id.
func (s State) RowID() string {
	if s.LeaderboardID != "" {
		return s.LeaderboardID
	}
	return s.GuestID
}

// Sorted returns the members of a set in ascending order.
func Sorted(s mapset.Set[string]) []string {
	out := make([]string, 0, s.Size())
	s.Each(func(k string) { out = append(out, k) })
	sort.Strings(out)
	return out
}

// SetOf builds a set from ids, skipping empty strings.
func SetOf(ids ...string) mapset.Set[string] {
	out := mapset.New[string]()
	for _, id := range ids {
		if id != "" {
			out.Put(id)
		}
	}
	return out
}

// CategoryCount is the number of categories with at least one visit.
func (s State) CategoryCount() int {
	n := 0
	for _, v := range s.CategoryVisits {
		if v.Size() > 0 {
			n++
		}
	}
	return n
}
