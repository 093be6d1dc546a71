package progression

import (
	"strings"
	"time"

	"gallerymaze.ai/internal/sim/tuning"
)

const (
	DefaultBaseVisitXP        = 25
	DefaultOnlyOnMonadBonusXP = 15
	DefaultNewCategoryBonusXP = 5
	DefaultFeedCap            = 20
	DefaultGlitchVotes        = 3
	DefaultRecommendationSets = 5

	GuestName = "Guest Explorer"
)

type Rules struct {
	BaseVisitXP        int
	OnlyOnMonadBonusXP int
	NewCategoryBonusXP int
	Curve              Curve
	FeedCap            int

	GlitchVotes        int
	RecommendationSets int

	Quests       []Quest
	Achievements []Achievement
}

func DefaultRules() Rules {
	return Rules{
		BaseVisitXP:        DefaultBaseVisitXP,
		OnlyOnMonadBonusXP: DefaultOnlyOnMonadBonusXP,
		NewCategoryBonusXP: DefaultNewCategoryBonusXP,
		Curve:              Curve{Step: DefaultLevelStep},
		FeedCap:            DefaultFeedCap,
		GlitchVotes:        DefaultGlitchVotes,
		RecommendationSets: DefaultRecommendationSets,
		Quests:             DefaultQuests(),
		Achievements:       DefaultAchievements(),
	}
}

func (r Rules) isZero() bool {
	return r.BaseVisitXP == 0 && r.Curve.Step == 0 && r.Quests == nil && r.Achievements == nil
}

func RulesFromTuning(t tuning.Progression) Rules {
	r := DefaultRules()
	r.BaseVisitXP = t.BaseVisitXP
	r.OnlyOnMonadBonusXP = t.OnlyOnMonadBonusXP
	r.NewCategoryBonusXP = t.NewCategoryBonusXP
	r.Curve = Curve{Step: t.LevelXPStep, Growth: t.LevelXPGrowth}
	if t.AchievementFeedCap > 0 {
		r.FeedCap = t.AchievementFeedCap
	}
	if t.GlitchVotes > 0 {
		r.GlitchVotes = t.GlitchVotes
	}
	if t.RecommendationSets > 0 {
		r.RecommendationSets = t.RecommendationSets
	}
	return r
}

// Env is everything a transition may read besides the state itself.
type Env struct {
	Rules   Rules
	Catalog Catalog
	Now     func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// ShortID abbreviates long identifiers such as wallet addresses to
// "0x1234...abcd".
func ShortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:6] + "..." + id[len(id)-4:]
}

// DisplayName picks the leaderboard name for an identity: the given name,
// else the shortened id, else GuestName.
func DisplayName(id, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if id = strings.TrimSpace(id); id != "" {
		return ShortID(id)
	}
	return GuestName
}
