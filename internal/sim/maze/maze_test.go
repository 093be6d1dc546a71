package maze

import (
	"errors"
	"testing"
)

func TestGenerate_DefaultIsConnected(t *testing.T) {
	g := MustGenerate(DefaultSize, DefaultSeed)
	if g.Size() != DefaultSize {
		t.Fatalf("size=%d want %d", g.Size(), DefaultSize)
	}
	start := g.Start()
	if start != (Pos{19, 19}) {
		t.Fatalf("start=%+v want 19:19", start)
	}
	if !g.IsFloor(start.Row, start.Col) {
		t.Fatalf("start cell must be floor")
	}
	if !g.Connected() {
		seen := g.Reachable()
		t.Fatalf("reachable=%d floor=%d", seen.Size(), g.FloorCount())
	}
}

func TestGenerate_ConnectedAcrossSeedsAndSizes(t *testing.T) {
	seeds := []string{"", "a", "chog-maze-layout", "gallery-east", "🦜 unicode"}
	for _, size := range []int{7, 9, 11, 21, 39, 41, 43} {
		for _, s := range seeds {
			g, err := Generate(size, s)
			if err != nil {
				t.Fatalf("size=%d seed=%q: %v", size, s, err)
			}
			if !g.Connected() {
				t.Fatalf("size=%d seed=%q: not connected\n%s", size, s, g)
			}
			st := g.Start()
			if !g.IsFloor(st.Row, st.Col) {
				t.Fatalf("size=%d seed=%q: start is wall", size, s)
			}
		}
	}
}

func TestGenerate_BorderIsSolid(t *testing.T) {
	g := MustGenerate(DefaultSize, DefaultSeed)
	n := g.Size()
	for i := 0; i < n; i++ {
		for b := 0; b < border; b++ {
			if g.IsFloor(b, i) || g.IsFloor(n-1-b, i) || g.IsFloor(i, b) || g.IsFloor(i, n-1-b) {
				t.Fatalf("border cell open near index %d depth %d", i, b)
			}
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := MustGenerate(DefaultSize, DefaultSeed)
	b := MustGenerate(DefaultSize, DefaultSeed)
	if a.String() != b.String() {
		t.Fatalf("same seed produced different grids")
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("digest mismatch")
	}
	c := MustGenerate(DefaultSize, "another-seed")
	if a.Digest() == c.Digest() {
		t.Fatalf("different seeds produced identical grids")
	}
}

func TestGenerate_InvalidSize(t *testing.T) {
	for _, size := range []int{-1, 0, 5, 8, 40} {
		if _, err := Generate(size, DefaultSeed); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("size=%d: err=%v want ErrInvalidSize", size, err)
		}
	}
}

func TestMustGenerate_PanicsOnInvalidSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustGenerate(10, DefaultSeed)
}

func TestGenerateWith_NoBraidIsPerfectMaze(t *testing.T) {
	g, err := GenerateWith(Params{Size: 23, Seed: "tree"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// A spanning tree on the odd lattice: floor = cells + (cells-1) corridors.
	lattice := (23 - 2*border - 1) / 2
	cells := lattice * lattice
	if got, want := g.FloorCount(), 2*cells-1; got != want {
		t.Fatalf("floor=%d want %d", got, want)
	}
}

func TestEncodeRLE_RoundTrip(t *testing.T) {
	g := MustGenerate(DefaultSize, DefaultSeed)
	back, err := DecodeRLE(g.EncodeRLE())
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if back.Size() != g.Size() || back.Digest() != g.Digest() {
		t.Fatalf("decoded grid differs")
	}
	if _, err := DecodeRLE("AA=="); err == nil {
		t.Fatalf("zero-size grid accepted")
	}
}
