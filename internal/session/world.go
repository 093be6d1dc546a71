package session

import (
	"fmt"

	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/layout"
	"gallerymaze.ai/internal/sim/maze"
	"gallerymaze.ai/internal/sim/placement"
	"gallerymaze.ai/internal/sim/tuning"
)

// World is the static gallery: computed once at startup and shared read-only.
type World struct {
	Grid        *maze.Grid
	Layout      *layout.Layout
	Placements  []placement.Placement
	Decorations []placement.Decoration
}

// BuildWorld generates the maze, derives the layout and hangs the exhibits.
// The same tuning and catalog always produce the same world.
func BuildWorld(t tuning.Tuning, cats *catalogs.Catalogs) (*World, error) {
	g, err := maze.GenerateWith(maze.Params{
		Size:        t.Maze.Size,
		Seed:        t.Maze.Seed,
		BraidChance: t.Maze.BraidChance,
	})
	if err != nil {
		return nil, fmt.Errorf("generate maze: %w", err)
	}
	l := layout.Derive(g, t.Layout)

	var exhibits []catalogs.Exhibit
	if cats != nil {
		exhibits = cats.List()
	}
	res := placement.PlacePopular(exhibits, l.Slots, t.Placement.PopularLimit)
	decor := placement.Decorate(res.Remaining, placement.DecorParams{
		Max:      t.Placement.DecorMax,
		Keep:     t.Placement.DecorKeep,
		Seed:     t.Placement.DecorSeed,
		ArtCount: t.Placement.ArtCount,
	})
	return &World{
		Grid:        g,
		Layout:      l,
		Placements:  res.Placements,
		Decorations: decor,
	}, nil
}

// PlacementFor returns where exhibitID hangs.
func (w *World) PlacementFor(exhibitID string) (placement.Placement, bool) {
	for _, p := range w.Placements {
		if p.ExhibitID == exhibitID {
			return p, true
		}
	}
	return placement.Placement{}, false
}
