package session

import (
	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/sim/progression"
)

// View renders s for the client.
func View(s progression.State, rules progression.Rules) protocol.PlayerView {
	categories := make(map[string]int, len(s.CategoryVisits))
	for cat, ids := range s.CategoryVisits {
		if ids.Size() > 0 {
			categories[cat] = ids.Size()
		}
	}
	feed := append([]progression.FeedEntry{}, s.AchievementFeed...)
	claimable := progression.Claimable(s, rules.Quests)
	if claimable == nil {
		claimable = []string{}
	}
	return protocol.PlayerView{
		LeaderboardID:   s.LeaderboardID,
		LeaderboardName: s.LeaderboardName,
		Level:           rules.Curve.Info(s.XP),
		Visited:         progression.Sorted(s.VisitedDapps),
		VisitCount:      len(s.VisitLog),
		Categories:      categories,
		OnlyOnMonad:     progression.Sorted(s.OnlyOnMonadVisited),
		Badges:          progression.Sorted(s.Badges),
		Achievements:    progression.Sorted(s.Achievements),
		Feed:            feed,
		Quests:          progression.QuestList(s, rules.Quests),
		Claimable:       claimable,
		Legacy: protocol.LegacyView{
			Votes:                   progression.Sorted(s.Legacy.Votes),
			Collections:             progression.Sorted(s.Legacy.Collections),
			GlitchUnlocked:          s.Legacy.GlitchUnlocked,
			RecommendationsUnlocked: s.Legacy.RecommendationsUnlocked,
		},
	}
}

// EntryFor is the leaderboard row for s.
func EntryFor(s progression.State) leaderboard.Entry {
	return leaderboard.Entry{
		ID:               s.RowID(),
		Name:             s.LeaderboardName,
		XP:               s.XP,
		BadgeCount:       s.Badges.Size(),
		Level:            s.Level,
		AchievementCount: s.Achievements.Size(),
	}
}
