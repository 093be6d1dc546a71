package progression

import (
	"sort"
	"time"
)

type LegacyProgress struct {
	Votes                   []string `json:"votes"`
	Collections             []string `json:"collections"`
	GlitchUnlocked          bool     `json:"glitch_unlocked"`
	RecommendationsUnlocked bool     `json:"recommendations_unlocked"`
}

// Progress is the JSON shape of State. Sets are sorted slices so encoded
// copies diff cleanly.
type Progress struct {
	XP    int `json:"xp"`
	Level int `json:"level"`

	VisitedDapps       []string            `json:"visited_dapps"`
	VisitLog           []Visit             `json:"visit_log"`
	CategoryVisits     map[string][]string `json:"category_visits"`
	OnlyOnMonadVisited []string            `json:"only_on_monad_visited"`
	QuestProgress      map[string]int      `json:"quest_progress"`
	CompletedQuests    []string            `json:"completed_quests"`
	ClaimedRewards     []string            `json:"claimed_rewards"`
	Badges             []string            `json:"badges"`
	Achievements       []string            `json:"achievements"`
	AchievementFeed    []FeedEntry         `json:"achievement_feed"`

	LeaderboardID   string `json:"leaderboard_id,omitempty"`
	LeaderboardName string `json:"leaderboard_name"`
	GuestID         string `json:"guest_id,omitempty"`

	Legacy    LegacyProgress `json:"legacy"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

func trueKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func ProgressOf(s State) Progress {
	p := Progress{
		XP:                 s.XP,
		Level:              s.Level,
		VisitedDapps:       Sorted(s.VisitedDapps),
		VisitLog:           append([]Visit{}, s.VisitLog...),
		CategoryVisits:     make(map[string][]string, len(s.CategoryVisits)),
		OnlyOnMonadVisited: Sorted(s.OnlyOnMonadVisited),
		QuestProgress:      make(map[string]int, len(s.QuestProgress)),
		CompletedQuests:    trueKeys(s.CompletedQuests),
		ClaimedRewards:     trueKeys(s.ClaimedRewards),
		Badges:             Sorted(s.Badges),
		Achievements:       Sorted(s.Achievements),
		AchievementFeed:    append([]FeedEntry{}, s.AchievementFeed...),
		LeaderboardID:      s.LeaderboardID,
		LeaderboardName:    s.LeaderboardName,
		GuestID:            s.GuestID,
		Legacy: LegacyProgress{
			Votes:                   Sorted(s.Legacy.Votes),
			Collections:             Sorted(s.Legacy.Collections),
			GlitchUnlocked:          s.Legacy.GlitchUnlocked,
			RecommendationsUnlocked: s.Legacy.RecommendationsUnlocked,
		},
		UpdatedAt: s.UpdatedAt,
	}
	for cat, set := range s.CategoryVisits {
		p.CategoryVisits[cat] = Sorted(set)
	}
	for id, n := range s.QuestProgress {
		p.QuestProgress[id] = n
	}
	return p
}

// State rebuilds the in-memory state.
func (p Progress) State() State {
	s := NewState(p.GuestID)
	s.XP = p.XP
	if p.Level > 0 {
		s.Level = p.Level
	}
	s.VisitedDapps = SetOf(p.VisitedDapps...)
	s.VisitLog = append([]Visit(nil), p.VisitLog...)
	for cat, ids := range p.CategoryVisits {
		s.CategoryVisits[cat] = SetOf(ids...)
	}
	s.OnlyOnMonadVisited = SetOf(p.OnlyOnMonadVisited...)
	for id, n := range p.QuestProgress {
		s.QuestProgress[id] = n
	}
	for _, id := range p.CompletedQuests {
		s.CompletedQuests[id] = true
	}
	for _, id := range p.ClaimedRewards {
		s.ClaimedRewards[id] = true
	}
	s.Badges = SetOf(p.Badges...)
	s.Achievements = SetOf(p.Achievements...)
	s.AchievementFeed = append([]FeedEntry(nil), p.AchievementFeed...)
	s.LeaderboardID = p.LeaderboardID
	if p.LeaderboardName != "" {
		s.LeaderboardName = p.LeaderboardName
	}
	s.Legacy.Votes = SetOf(p.Legacy.Votes...)
	s.Legacy.Collections = SetOf(p.Legacy.Collections...)
	s.Legacy.GlitchUnlocked = p.Legacy.GlitchUnlocked
	s.Legacy.RecommendationsUnlocked = p.Legacy.RecommendationsUnlocked
	s.UpdatedAt = p.UpdatedAt
	return s
}
