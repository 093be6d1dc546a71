// Package layout turns a maze grid into world-space cells and the wall-mounted
// slots exhibits can be hung on.
package layout

import (
	"fmt"
	"math"

	"github.com/zyedidia/generic/mapset"

	"gallerymaze.ai/internal/sim/maze"
	"gallerymaze.ai/internal/sim/seed"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) scale(k float64) Vec3 { return Vec3{v.X * k, v.Y * k, v.Z * k} }

type Params struct {
	CellSize      float64 `json:"cell_size" yaml:"cell_size"`
	WallThickness float64 `json:"wall_thickness" yaml:"wall_thickness"`
	PanelGap      float64 `json:"panel_gap" yaml:"panel_gap"`
	LateralSpread float64 `json:"lateral_spread" yaml:"lateral_spread"`
	PanelHeight   float64 `json:"panel_height" yaml:"panel_height"`
}

func DefaultParams() Params {
	return Params{
		CellSize:      3.3,
		WallThickness: 3.3 * 0.98,
		PanelGap:      0.06,
		LateralSpread: 0.35,
		PanelHeight:   1.45,
	}
}

// Normalize fills unset fields from DefaultParams. A custom cell size with no
// explicit wall thickness keeps the default thickness ratio. Only a negative
// lateral spread counts as unset.
func (p Params) Normalize() Params {
	d := DefaultParams()
	if p.CellSize <= 0 {
		p.CellSize = d.CellSize
	}
	if p.WallThickness <= 0 {
		p.WallThickness = p.CellSize * 0.98
	}
	if p.PanelGap <= 0 {
		p.PanelGap = d.PanelGap
	}
	// Zero spread is a valid choice: panels sit centered on their walls.
	if p.LateralSpread < 0 {
		p.LateralSpread = d.LateralSpread
	}
	if p.PanelHeight <= 0 {
		p.PanelHeight = d.PanelHeight
	}
	return p
}

type Cell struct {
	Key      string `json:"key"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Position Vec3   `json:"position"`
}

type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

type neighbour struct {
	dir     Direction
	dr, dc  int
	forward Vec3
}

var neighbours = [4]neighbour{
	{dir: North, dr: -1, forward: Vec3{0, 0, -1}},
	{dir: South, dr: 1, forward: Vec3{0, 0, 1}},
	{dir: East, dc: 1, forward: Vec3{1, 0, 0}},
	{dir: West, dc: -1, forward: Vec3{-1, 0, 0}},
}

// Slot is a wall face next to a walkable cell.
type Slot struct {
	Key         string     `json:"key"`
	CellKey     string     `json:"cell_key"`
	Direction   Direction  `json:"direction"`
	Row         int        `json:"row"`
	Col         int        `json:"col"`
	Position    Vec3       `json:"position"`
	Yaw         float64    `json:"yaw"`
	MapPosition [2]float64 `json:"map_position"`
}

type Layout struct {
	Size     int    `json:"size"`
	Params   Params `json:"params"`
	Walkable []Cell `json:"walkable"`
	Walls    []Cell `json:"walls"`
	Slots    []Slot `json:"slots"`

	WalkableKeys mapset.Set[string] `json:"-"`
	CellIndex    map[string]Cell    `json:"-"`

	half float64
}

func CellKey(row, col int) string { return fmt.Sprintf("%d:%d", row, col) }

// Derive computes cell positions and exhibit slots for g. Cells and slots are
// emitted in row-major order, slots per cell in north, south, east, west order.
func Derive(g *maze.Grid, p Params) *Layout {
	p = p.Normalize()
	n := g.Size()
	l := &Layout{
		Size:         n,
		Params:       p,
		WalkableKeys: mapset.New[string](),
		CellIndex:    make(map[string]Cell, n*n),
		half:         float64(n-1) * p.CellSize / 2,
	}

	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			cell := Cell{Key: CellKey(r, c), Row: r, Col: c, Position: l.WorldPosition(r, c)}
			l.CellIndex[cell.Key] = cell
			if g.IsFloor(r, c) {
				l.Walkable = append(l.Walkable, cell)
				l.WalkableKeys.Put(cell.Key)
			} else {
				l.Walls = append(l.Walls, cell)
			}
		}
	}

	for _, cell := range l.Walkable {
		for _, nb := range neighbours {
			wr, wc := cell.Row+nb.dr, cell.Col+nb.dc
			if wr < 0 || wc < 0 || wr >= n || wc >= n || g.IsFloor(wr, wc) {
				continue
			}
			l.Slots = append(l.Slots, l.slot(cell, nb, l.WorldPosition(wr, wc)))
		}
	}
	return l
}

func (l *Layout) slot(cell Cell, nb neighbour, wallCenter Vec3) Slot {
	p := l.Params
	fwd := nb.forward
	lateral := Vec3{fwd.Z, 0, -fwd.X}
	jitter := (seed.Random(cell.Key+":"+string(nb.dir)) - 0.5) * p.LateralSpread

	pos := wallCenter.
		add(fwd.scale(-(p.WallThickness/2 + p.PanelGap))).
		add(lateral.scale(jitter))
	pos.Y = p.PanelHeight

	return Slot{
		Key:         cell.Key + ":" + string(nb.dir),
		CellKey:     cell.Key,
		Direction:   nb.dir,
		Row:         cell.Row,
		Col:         cell.Col,
		Position:    pos,
		Yaw:         math.Atan2(-fwd.X, -fwd.Z),
		MapPosition: [2]float64{cell.Position.X, cell.Position.Z},
	}
}

// WorldPosition maps a grid coordinate to the centre of its cell at ground level.
func (l *Layout) WorldPosition(row, col int) Vec3 {
	return Vec3{
		X: float64(col)*l.Params.CellSize - l.half,
		Z: float64(row)*l.Params.CellSize - l.half,
	}
}

// PositionToCell rounds a world position to the nearest grid coordinate.
// ok is false when the position falls outside the grid.
func (l *Layout) PositionToCell(x, z float64) (maze.Pos, bool) {
	col := int(math.Round((x + l.half) / l.Params.CellSize))
	row := int(math.Round((z + l.half) / l.Params.CellSize))
	if row < 0 || col < 0 || row >= l.Size || col >= l.Size {
		return maze.Pos{Row: row, Col: col}, false
	}
	return maze.Pos{Row: row, Col: col}, true
}

func (l *Layout) IsWalkable(row, col int) bool {
	return l.WalkableKeys.Has(CellKey(row, col))
}

// IsWalkableAt answers collision queries in world space.
func (l *Layout) IsWalkableAt(x, z float64) bool {
	p, ok := l.PositionToCell(x, z)
	return ok && l.IsWalkable(p.Row, p.Col)
}

// Start returns the spawn cell.
func (l *Layout) Start() Cell {
	return l.CellIndex[CellKey(l.Size/2, l.Size/2)]
}
