package progression

import (
	"time"

	"gallerymaze.ai/internal/sim/catalogs"
)

// Catalog resolves exhibit ids. *catalogs.Catalogs satisfies it.
type Catalog interface {
	Exhibit(id string) (catalogs.Exhibit, bool)
}

type Achievement struct {
	ID          string
	Title       string
	Description string
	Check       func(State, Catalog) bool
}

func badgesAtLeast(n int) func(State, Catalog) bool {
	return func(s State, _ Catalog) bool { return s.Badges.Size() >= n }
}

func levelAtLeast(n int) func(State, Catalog) bool {
	return func(s State, _ Catalog) bool { return s.Level >= n }
}

func categoryBadgesAtLeast(category string, n int) func(State, Catalog) bool {
	return func(s State, c Catalog) bool { return CategoryBadgeCount(s, c, category) >= n }
}

// CategoryBadgeCount counts held badges whose exhibit lists category,
// compared case-insensitively. Badges for exhibits missing from the catalog
// are not counted.
func CategoryBadgeCount(s State, c Catalog, category string) int {
	if c == nil {
		return 0
	}
	n := 0
	s.Badges.Each(func(id string) {
		if e, ok := c.Exhibit(id); ok && e.HasCategory(category) {
			n++
		}
	})
	return n
}

func DefaultAchievements() []Achievement {
	return []Achievement{
		{ID: "novice-curator", Title: "Novice Curator", Description: "Claim your first badge.", Check: badgesAtLeast(1)},
		{ID: "gallery-scout", Title: "Gallery Scout", Description: "Hold 5 badges.", Check: badgesAtLeast(5)},
		{ID: "archival-seeker", Title: "Archival Seeker", Description: "Hold 10 badges.", Check: badgesAtLeast(10)},
		{ID: "maze-virtuoso", Title: "Maze Virtuoso", Description: "Hold 20 badges.", Check: badgesAtLeast(20)},
		{ID: "monad-muse-keeper", Title: "Monad Muse Keeper", Description: "Hold 40 badges.", Check: badgesAtLeast(40)},
		{ID: "skylight-walker", Title: "Skylight Walker", Description: "Reach level 5.", Check: levelAtLeast(5)},
		{ID: "hallway-harmonist", Title: "Hallway Harmonist", Description: "Reach level 10.", Check: levelAtLeast(10)},
		{ID: "badge-whisperer", Title: "Badge Whisperer", Description: "Reach level 20.", Check: levelAtLeast(20)},
		{ID: "defi-specialist", Title: "DeFi Specialist", Description: "Earn 4 DeFi badges.", Check: categoryBadgesAtLeast("defi", 4)},
		{ID: "infra-specialist", Title: "Infra Specialist", Description: "Earn 4 infrastructure badges.", Check: categoryBadgesAtLeast("infra", 4)},
		{ID: "ai-specialist", Title: "AI Specialist", Description: "Earn 4 AI badges.", Check: categoryBadgesAtLeast("ai", 4)},
	}
}

// scanAchievements evaluates every achievement not yet held against s and
// records the ones that pass. The feed keeps the newest feedCap entries.
func scanAchievements(s *State, defs []Achievement, c Catalog, feedCap int, now time.Time) []string {
	var unlocked []string
	for _, a := range defs {
		if s.Achievements.Has(a.ID) || a.Check == nil {
			continue
		}
		if !a.Check(*s, c) {
			continue
		}
		s.Achievements.Put(a.ID)
		s.AchievementFeed = append(s.AchievementFeed, FeedEntry{ID: a.ID, UnlockedAt: now})
		unlocked = append(unlocked, a.ID)
	}
	if feedCap > 0 && len(s.AchievementFeed) > feedCap {
		s.AchievementFeed = append([]FeedEntry(nil), s.AchievementFeed[len(s.AchievementFeed)-feedCap:]...)
	}
	return unlocked
}
