// Package placement assigns exhibits to layout slots.
package placement

import (
	"math"
	"sort"

	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/layout"
	"gallerymaze.ai/internal/sim/seed"
)

const (
	DefaultPopularLimit = 30
	DefaultDecorMax     = 96
	DefaultDecorKeep    = 0.85
	DefaultDecorSeed    = "chog-decor"
)

var (
	exhibitPalette = []string{"#f97316", "#38bdf8", "#a855f7", "#22c55e", "#facc15", "#fb7185"}
	decorPalette   = []string{"#0ea5e9", "#6366f1", "#f97316", "#14b8a6", "#facc15", "#ec4899"}
)

type Placement struct {
	ExhibitID   string      `json:"exhibit_id"`
	SlotKey     string      `json:"slot_key"`
	Position    layout.Vec3 `json:"position"`
	Yaw         float64     `json:"yaw"`
	MapPosition [2]float64  `json:"map_position"`
	Color       string      `json:"color"`
	Rank        int         `json:"rank"`
}

type Result struct {
	Placements []Placement   `json:"placements"`
	Remaining  []layout.Slot `json:"-"`
}

// PlacePopular hangs the most popular visible exhibits. Each exhibit picks its
// slot from the slots still free using a draw seeded by its own id, so the
// result depends only on the exhibit list and the slot list. slots is not
// modified.
func PlacePopular(exhibits []catalogs.Exhibit, slots []layout.Slot, limit int) Result {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	visible := make([]catalogs.Exhibit, 0, len(exhibits))
	for _, e := range exhibits {
		if e.Hidden || e.ID == "" {
			continue
		}
		visible = append(visible, e)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].PopularityScore > visible[j].PopularityScore
	})
	if len(visible) > limit {
		visible = visible[:limit]
	}

	free := append([]layout.Slot(nil), slots...)
	res := Result{}
	for rank, e := range visible {
		if len(free) == 0 {
			break
		}
		r := seed.Random("placement:" + e.ID)
		idx := int(math.Floor(r*float64(len(free)))) % len(free)
		s := free[idx]
		free = append(free[:idx], free[idx+1:]...)

		res.Placements = append(res.Placements, Placement{
			ExhibitID:   e.ID,
			SlotKey:     s.Key,
			Position:    s.Position,
			Yaw:         s.Yaw,
			MapPosition: s.MapPosition,
			Color:       exhibitPalette[rank%len(exhibitPalette)],
			Rank:        rank,
		})
	}
	res.Remaining = free
	return res
}

// Decoration is a filler frame on a slot no exhibit took.
type Decoration struct {
	SlotKey  string      `json:"slot_key"`
	Position layout.Vec3 `json:"position"`
	Yaw      float64     `json:"yaw"`
	Color    string      `json:"color"`
	Art      int         `json:"art"`
}

type DecorParams struct {
	Max  int
	Keep float64
	Seed string
	// ArtCount is the number of artworks to cycle through; 0 leaves Art at 0.
	ArtCount int
}

// Decorate fills up to p.Max of the remaining slots with decorative frames.
// Slots are shuffled and thinned with a seeded source, so the same inputs
// always dress the same walls.
func Decorate(remaining []layout.Slot, p DecorParams) []Decoration {
	if p.Max <= 0 {
		p.Max = DefaultDecorMax
	}
	if p.Keep <= 0 {
		p.Keep = DefaultDecorKeep
	}
	if p.Seed == "" {
		p.Seed = DefaultDecorSeed
	}
	rng := seed.New(p.Seed)

	order := append([]layout.Slot(nil), remaining...)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var out []Decoration
	for _, s := range order {
		if len(out) >= p.Max {
			break
		}
		if rng.Float64() >= p.Keep {
			continue
		}
		d := Decoration{
			SlotKey:  s.Key,
			Position: s.Position,
			Yaw:      s.Yaw,
			Color:    decorPalette[len(out)%len(decorPalette)],
		}
		if p.ArtCount > 0 {
			d.Art = rng.Intn(p.ArtCount)
		}
		out = append(out, d)
	}
	return out
}
