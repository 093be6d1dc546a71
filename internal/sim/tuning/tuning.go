package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gallerymaze.ai/internal/sim/layout"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Maze        Maze          `yaml:"maze"`
	Layout      layout.Params `yaml:"layout"`
	Placement   Placement     `yaml:"placement"`
	Progression Progression   `yaml:"progression"`
	Leaderboard Leaderboard   `yaml:"leaderboard"`
}

type Maze struct {
	Size        int     `yaml:"size"`
	Seed        string  `yaml:"seed"`
	BraidChance float64 `yaml:"braid_chance"`
}

type Placement struct {
	PopularLimit int     `yaml:"popular_limit"`
	DecorMax     int     `yaml:"decor_max"`
	DecorKeep    float64 `yaml:"decor_keep"`
	DecorSeed    string  `yaml:"decor_seed"`
	ArtCount     int     `yaml:"art_count"`
}

type Progression struct {
	BaseVisitXP        int `yaml:"base_visit_xp"`
	OnlyOnMonadBonusXP int `yaml:"only_on_monad_bonus_xp"`
	NewCategoryBonusXP int `yaml:"new_category_bonus_xp"`
	LevelXPStep        int `yaml:"level_xp_step"`
	LevelXPGrowth      int `yaml:"level_xp_growth"`
	AchievementFeedCap int `yaml:"achievement_feed_cap"`
	GlitchVotes        int `yaml:"glitch_votes"`
	RecommendationSets int `yaml:"recommendation_collections"`
}

type Leaderboard struct {
	MaxEntries int `yaml:"max_entries"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Maze: Maze{
			Size:        39,
			Seed:        "chog-maze-layout",
			BraidChance: 0.09,
		},
		Layout: layout.DefaultParams(),
		Placement: Placement{
			PopularLimit: 30,
			DecorMax:     96,
			DecorKeep:    0.85,
			DecorSeed:    "chog-decor",
			ArtCount:     0,
		},
		Progression: Progression{
			BaseVisitXP:        25,
			OnlyOnMonadBonusXP: 15,
			NewCategoryBonusXP: 5,
			LevelXPStep:        100,
			LevelXPGrowth:      0,
			AchievementFeedCap: 20,
			GlitchVotes:        3,
			RecommendationSets: 5,
		},
		Leaderboard: Leaderboard{MaxEntries: 100},
	}
}

// Load overlays the YAML file at path onto Defaults. An empty path returns
// the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Layout = t.Layout.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.Maze.Size < 7 || t.Maze.Size%2 == 0 {
		return fmt.Errorf("maze.size must be odd and >= 7 (got %d)", t.Maze.Size)
	}
	if t.Maze.BraidChance < 0 || t.Maze.BraidChance >= 1 {
		return fmt.Errorf("maze.braid_chance must be in [0,1)")
	}
	if t.Placement.PopularLimit <= 0 {
		return fmt.Errorf("placement.popular_limit must be > 0")
	}
	if t.Placement.DecorKeep < 0 || t.Placement.DecorKeep > 1 {
		return fmt.Errorf("placement.decor_keep must be in [0,1]")
	}
	p := t.Progression
	if p.BaseVisitXP < 0 || p.OnlyOnMonadBonusXP < 0 || p.NewCategoryBonusXP < 0 {
		return fmt.Errorf("progression xp values must be >= 0")
	}
	if p.LevelXPStep <= 0 {
		return fmt.Errorf("progression.level_xp_step must be > 0")
	}
	if p.LevelXPGrowth < 0 {
		return fmt.Errorf("progression.level_xp_growth must be >= 0")
	}
	if p.AchievementFeedCap <= 0 {
		return fmt.Errorf("progression.achievement_feed_cap must be > 0")
	}
	if t.Leaderboard.MaxEntries <= 0 {
		return fmt.Errorf("leaderboard.max_entries must be > 0")
	}
	return nil
}
