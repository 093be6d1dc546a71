// Package maze generates the square gallery grid.
package maze

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zyedidia/generic/mapset"

	"gallerymaze.ai/internal/sim/encoding"
	"gallerymaze.ai/internal/sim/seed"
)

type Tile uint8

const (
	Wall Tile = iota
	Floor
)

const (
	DefaultSize        = 39
	DefaultSeed        = "chog-maze-layout"
	DefaultBraidChance = 0.09

	// border is the number of solid rows/cols around the carved region.
	border = 2
)

var ErrInvalidSize = errors.New("maze: size must be odd and >= 7")

// Pos is a (row, col) grid coordinate.
type Pos struct {
	Row int
	Col int
}

func (p Pos) Key() string { return fmt.Sprintf("%d:%d", p.Row, p.Col) }

type Grid struct {
	size  int
	tiles []Tile
}

type Params struct {
	Size        int
	Seed        string
	BraidChance float64
}

// Generate builds a size x size maze from seedString with the default braid chance.
func Generate(size int, seedString string) (*Grid, error) {
	return GenerateWith(Params{Size: size, Seed: seedString, BraidChance: DefaultBraidChance})
}

// MustGenerate is Generate for startup paths where a bad size is a programming error.
func MustGenerate(size int, seedString string) *Grid {
	g, err := Generate(size, seedString)
	if err != nil {
		panic(err)
	}
	return g
}

func GenerateWith(p Params) (*Grid, error) {
	if p.Size < 7 || p.Size%2 == 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSize, p.Size)
	}
	rng := seed.New(p.Seed)

	inner := newGrid(p.Size - 2*border)
	carve(inner, rng)
	braid(inner, rng, p.BraidChance)

	g := newGrid(p.Size)
	for r := 0; r < inner.size; r++ {
		for c := 0; c < inner.size; c++ {
			g.set(r+border, c+border, inner.At(r, c))
		}
	}
	g.openStart()
	return g, nil
}

func newGrid(size int) *Grid {
	return &Grid{size: size, tiles: make([]Tile, size*size)}
}

var steps = [4]Pos{{0, 2}, {0, -2}, {2, 0}, {-2, 0}}

type frame struct {
	at   Pos
	dirs [4]Pos
	next int
}

// carve runs a randomized depth-first search on the odd lattice starting at
// (1,1). Each cell shuffles its directions once on entry and resumes where it
// left off after a child is exhausted, which keeps the RNG draw order of the
// recursive formulation.
func carve(g *Grid, rng *seed.Source) {
	push := func(stack []frame, at Pos) []frame {
		g.set(at.Row, at.Col, Floor)
		f := frame{at: at, dirs: steps}
		rng.Shuffle(len(f.dirs), func(i, j int) { f.dirs[i], f.dirs[j] = f.dirs[j], f.dirs[i] })
		return append(stack, f)
	}

	stack := push(nil, Pos{1, 1})
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.dirs) {
			stack = stack[:len(stack)-1]
			continue
		}
		d := top.dirs[top.next]
		top.next++

		to := Pos{top.at.Row + d.Row, top.at.Col + d.Col}
		if to.Row <= 0 || to.Row >= g.size-1 || to.Col <= 0 || to.Col >= g.size-1 {
			continue
		}
		if g.At(to.Row, to.Col) != Wall {
			continue
		}
		g.set(top.at.Row+d.Row/2, top.at.Col+d.Col/2, Floor)
		stack = push(stack, to)
	}
}

// braid opens extra walls to create loops. A draw is taken for every interior
// wall; the wall opens only when it touches an existing floor cell so that no
// isolated pockets appear.
func braid(g *Grid, rng *seed.Source, chance float64) {
	for r := 2; r <= g.size-3; r++ {
		for c := 2; c <= g.size-3; c++ {
			if g.At(r, c) != Wall {
				continue
			}
			if rng.Float64() < chance && g.floorNeighbours(r, c) > 0 {
				g.set(r, c, Floor)
			}
		}
	}
}

// openStart forces the centre cell open and, if it is cut off, opens the
// shortest run of walls connecting it to the carved region.
func (g *Grid) openStart() {
	start := g.Start()
	if g.At(start.Row, start.Col) == Floor {
		return
	}
	g.set(start.Row, start.Col, Floor)
	if g.floorNeighbours(start.Row, start.Col) > 0 {
		return
	}

	parent := map[Pos]Pos{start: start}
	queue := []Pos{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range [4]Pos{{-1, 0}, {1, 0}, {0, 1}, {0, -1}} {
			n := Pos{cur.Row + d.Row, cur.Col + d.Col}
			if n.Row < border || n.Row >= g.size-border || n.Col < border || n.Col >= g.size-border {
				continue
			}
			if _, ok := parent[n]; ok {
				continue
			}
			parent[n] = cur
			if g.At(n.Row, n.Col) == Floor {
				for p := cur; p != start; p = parent[p] {
					g.set(p.Row, p.Col, Floor)
				}
				return
			}
			queue = append(queue, n)
		}
	}
}

func (g *Grid) floorNeighbours(r, c int) int {
	n := 0
	for _, d := range [4]Pos{{-1, 0}, {1, 0}, {0, 1}, {0, -1}} {
		if g.IsFloor(r+d.Row, c+d.Col) {
			n++
		}
	}
	return n
}

func (g *Grid) set(r, c int, t Tile) { g.tiles[r*g.size+c] = t }

func (g *Grid) Size() int { return g.size }

// At returns the tile at (r, c). Out-of-range coordinates read as Wall.
func (g *Grid) At(r, c int) Tile {
	if g == nil || r < 0 || c < 0 || r >= g.size || c >= g.size {
		return Wall
	}
	return g.tiles[r*g.size+c]
}

func (g *Grid) IsFloor(r, c int) bool { return g.At(r, c) == Floor }

// Start is the spawn cell at the centre of the grid.
func (g *Grid) Start() Pos { return Pos{g.size / 2, g.size / 2} }

// FloorCount returns the number of walkable cells.
func (g *Grid) FloorCount() int {
	n := 0
	for _, t := range g.tiles {
		if t == Floor {
			n++
		}
	}
	return n
}

// Reachable flood-fills from the start cell.
func (g *Grid) Reachable() mapset.Set[Pos] {
	seen := mapset.New[Pos]()
	start := g.Start()
	if !g.IsFloor(start.Row, start.Col) {
		return seen
	}
	queue := []Pos{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen.Has(cur) {
			continue
		}
		seen.Put(cur)
		for _, d := range [4]Pos{{-1, 0}, {1, 0}, {0, 1}, {0, -1}} {
			n := Pos{cur.Row + d.Row, cur.Col + d.Col}
			if g.IsFloor(n.Row, n.Col) && !seen.Has(n) {
				queue = append(queue, n)
			}
		}
	}
	return seen
}

// Connected reports whether every floor cell is reachable from the start.
func (g *Grid) Connected() bool {
	seen := g.Reachable()
	return seen.Size() == g.FloorCount()
}

// Rows renders the grid with '#' for walls and '.' for floor.
func (g *Grid) Rows() []string {
	out := make([]string, g.size)
	var b strings.Builder
	for r := 0; r < g.size; r++ {
		b.Reset()
		for c := 0; c < g.size; c++ {
			if g.At(r, c) == Floor {
				b.WriteByte('.')
			} else {
				b.WriteByte('#')
			}
		}
		out[r] = b.String()
	}
	return out
}

func (g *Grid) String() string { return strings.Join(g.Rows(), "\n") }

// Digest is a stable content hash used to tag layouts and snapshots.
func (g *Grid) Digest() string {
	sum := sha256.Sum256([]byte(g.String()))
	return hex.EncodeToString(sum[:])
}

// EncodeRLE packs the grid for clients that draw their own minimap.
func (g *Grid) EncodeRLE() string {
	ids := make([]uint8, len(g.tiles))
	for i, t := range g.tiles {
		ids[i] = uint8(t)
	}
	return encoding.EncodeGrid(g.size, ids)
}

// DecodeRLE rebuilds a grid packed by EncodeRLE.
func DecodeRLE(s string) (*Grid, error) {
	size, ids, err := encoding.DecodeGrid(s)
	if err != nil {
		return nil, fmt.Errorf("maze: %w", err)
	}
	g := newGrid(size)
	for i, id := range ids {
		if Tile(id) > Floor {
			return nil, fmt.Errorf("maze: unknown tile %d at %d", id, i)
		}
		g.tiles[i] = Tile(id)
	}
	return g, nil
}
