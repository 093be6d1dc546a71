package seed

import "testing"

func TestHash_Empty(t *testing.T) {
	if got := Hash(""); got != 0 {
		t.Fatalf("Hash(\"\")=%d want 0", got)
	}
}

func TestHash_SingleCodeUnit(t *testing.T) {
	// 0*mul + 'a' + inc
	want := uint32('a') + inc
	if got := Hash("a"); got != want {
		t.Fatalf("Hash(a)=%d want %d", got, want)
	}
}

func TestSource_FirstValueFromZeroState(t *testing.T) {
	r := New("")
	want := float64(inc) / scale
	if got := r.Float64(); got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSource_Deterministic(t *testing.T) {
	a := New("chog-maze-layout")
	b := New("chog-maze-layout")
	for i := 0; i < 1000; i++ {
		va, vb := a.Float64(), b.Float64()
		if va != vb {
			t.Fatalf("step %d: %v != %v", i, va, vb)
		}
		if va < 0 || va >= 1 {
			t.Fatalf("step %d: out of range %v", i, va)
		}
	}
}

func TestSource_ResumeFromState(t *testing.T) {
	r := New("resume")
	for i := 0; i < 17; i++ {
		r.Float64()
	}
	saved := r.State()
	want := []float64{r.Float64(), r.Float64(), r.Float64()}

	again := FromState(saved)
	for i, w := range want {
		if got := again.Float64(); got != w {
			t.Fatalf("value %d: got %v want %v", i, got, w)
		}
	}
}

func TestSource_DifferentSeedsDiverge(t *testing.T) {
	if Random("placement:a") == Random("placement:b") {
		t.Fatalf("expected different first values for different seeds")
	}
}

func TestSource_ShuffleIsPermutation(t *testing.T) {
	r := New("shuffle")
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	r.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
	seen := map[int]bool{}
	for _, x := range xs {
		if seen[x] {
			t.Fatalf("duplicate %d in %v", x, xs)
		}
		seen[x] = true
	}
	if len(seen) != 8 {
		t.Fatalf("lost elements: %v", xs)
	}
}

func TestSource_IntnRange(t *testing.T) {
	r := New("intn")
	for i := 0; i < 500; i++ {
		if v := r.Intn(7); v < 0 || v >= 7 {
			t.Fatalf("Intn(7)=%d", v)
		}
	}
	if v := r.Intn(0); v != 0 {
		t.Fatalf("Intn(0)=%d want 0", v)
	}
}
