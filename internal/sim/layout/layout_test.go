package layout

import (
	"math"
	"testing"

	"gallerymaze.ai/internal/sim/maze"
	"gallerymaze.ai/internal/sim/seed"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDerive_CellsPartitionGrid(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	l := Derive(g, Params{})
	n := g.Size()
	if got := len(l.Walkable) + len(l.Walls); got != n*n {
		t.Fatalf("cells=%d want %d", got, n*n)
	}
	if len(l.Walkable) != g.FloorCount() {
		t.Fatalf("walkable=%d want %d", len(l.Walkable), g.FloorCount())
	}
	if l.WalkableKeys.Size() != len(l.Walkable) {
		t.Fatalf("walkable keys=%d want %d", l.WalkableKeys.Size(), len(l.Walkable))
	}
	start := l.Start()
	if start.Key != "19:19" || !l.IsWalkable(start.Row, start.Col) {
		t.Fatalf("start=%+v", start)
	}
}

func TestDerive_WorldPositionFormula(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	l := Derive(g, Params{})
	half := float64(g.Size()-1) * 3.3 / 2
	c := l.CellIndex["0:0"]
	if !near(c.Position.X, -half) || !near(c.Position.Z, -half) {
		t.Fatalf("0:0 at %+v want (%v,%v)", c.Position, -half, -half)
	}
	mid := l.CellIndex["19:19"]
	if !near(mid.Position.X, 0) || !near(mid.Position.Z, 0) {
		t.Fatalf("centre at %+v want origin", mid.Position)
	}
}

func TestDerive_SlotsFaceWalls(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	l := Derive(g, Params{})
	if len(l.Slots) == 0 {
		t.Fatalf("expected slots")
	}
	if len(l.Slots) > 4*len(l.Walkable) {
		t.Fatalf("slots=%d exceeds 4*walkable", len(l.Slots))
	}
	seen := map[string]bool{}
	for _, s := range l.Slots {
		if seen[s.Key] {
			t.Fatalf("duplicate slot key %s", s.Key)
		}
		seen[s.Key] = true
		if !g.IsFloor(s.Row, s.Col) {
			t.Fatalf("slot %s on a wall cell", s.Key)
		}
		wr, wc := s.Row, s.Col
		switch s.Direction {
		case North:
			wr--
		case South:
			wr++
		case East:
			wc++
		case West:
			wc--
		}
		if g.IsFloor(wr, wc) {
			t.Fatalf("slot %s faces open floor", s.Key)
		}
		if s.Position.Y != 1.45 {
			t.Fatalf("slot %s height=%v", s.Key, s.Position.Y)
		}
	}
}

func TestDerive_NorthSlotGeometry(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	p := DefaultParams()
	l := Derive(g, p)

	var slot *Slot
	for i := range l.Slots {
		if l.Slots[i].Direction == North {
			slot = &l.Slots[i]
			break
		}
	}
	if slot == nil {
		t.Fatalf("no north slot")
	}
	cell := l.CellIndex[slot.CellKey]
	wall := l.WorldPosition(slot.Row-1, slot.Col)
	jitter := (seed.Random(slot.Key) - 0.5) * p.LateralSpread

	wantZ := wall.Z + p.WallThickness/2 + p.PanelGap
	wantX := cell.Position.X - jitter
	if !near(slot.Position.Z, wantZ) || !near(slot.Position.X, wantX) {
		t.Fatalf("north slot at %+v want x=%v z=%v", slot.Position, wantX, wantZ)
	}
	if !near(slot.Yaw, 0) {
		t.Fatalf("north yaw=%v want 0", slot.Yaw)
	}
	if slot.MapPosition != [2]float64{cell.Position.X, cell.Position.Z} {
		t.Fatalf("map position=%v want cell position", slot.MapPosition)
	}
}

func TestNormalize_ZeroSpreadCentersPanels(t *testing.T) {
	p := DefaultParams()
	p.LateralSpread = 0
	if got := p.Normalize().LateralSpread; got != 0 {
		t.Fatalf("spread=%v want 0", got)
	}
	p.LateralSpread = -1
	if got := p.Normalize().LateralSpread; got != DefaultParams().LateralSpread {
		t.Fatalf("negative spread=%v want default %v", got, DefaultParams().LateralSpread)
	}

	p.LateralSpread = 0
	l := Derive(maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed), p)
	for _, s := range l.Slots {
		cell := l.CellIndex[s.CellKey]
		switch s.Direction {
		case North, South:
			if !near(s.Position.X, cell.Position.X) {
				t.Fatalf("slot %s x=%v want cell x=%v", s.Key, s.Position.X, cell.Position.X)
			}
		default:
			if !near(s.Position.Z, cell.Position.Z) {
				t.Fatalf("slot %s z=%v want cell z=%v", s.Key, s.Position.Z, cell.Position.Z)
			}
		}
	}
}

func TestDerive_YawPerDirection(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	l := Derive(g, Params{})
	want := map[Direction]float64{North: 0, South: math.Pi, East: -math.Pi / 2, West: math.Pi / 2}
	for _, s := range l.Slots {
		w := want[s.Direction]
		if !near(math.Cos(s.Yaw), math.Cos(w)) || !near(math.Sin(s.Yaw), math.Sin(w)) {
			t.Fatalf("%s yaw=%v want %v", s.Key, s.Yaw, w)
		}
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed), Params{})
	b := Derive(maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed), Params{})
	if len(a.Slots) != len(b.Slots) {
		t.Fatalf("slot counts differ")
	}
	for i := range a.Slots {
		if a.Slots[i] != b.Slots[i] {
			t.Fatalf("slot %d differs: %+v vs %+v", i, a.Slots[i], b.Slots[i])
		}
	}
}

func TestPositionToCell_RoundTrip(t *testing.T) {
	g := maze.MustGenerate(maze.DefaultSize, maze.DefaultSeed)
	l := Derive(g, Params{})
	for _, c := range l.Walkable {
		p, ok := l.PositionToCell(c.Position.X+0.4, c.Position.Z-0.4)
		if !ok || p.Row != c.Row || p.Col != c.Col {
			t.Fatalf("cell %s mapped to %+v ok=%v", c.Key, p, ok)
		}
		if !l.IsWalkableAt(c.Position.X, c.Position.Z) {
			t.Fatalf("cell %s not walkable in world space", c.Key)
		}
	}
	if _, ok := l.PositionToCell(-1000, 0); ok {
		t.Fatalf("far position should be out of bounds")
	}
}
