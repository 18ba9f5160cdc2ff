package metad

import (
	"math"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

// TestScalarGridSimplexProjScenario implements spec.md §8's simplex
// projection scenario: [0.6, 0.3, 0.2, 0.1] projects onto the simplex,
// summing to 1, with every entry non-negative and relative ordering
// preserved.
func TestScalarGridSimplexProjScenario(t *testing.T) {
	g := &ScalarGrid{g: &grid{mult: 1, data: []float64{0.6, 0.3, 0.2, 0.1}}}
	g.SimplexProj()

	sum := 0.0
	for _, v := range g.g.data {
		if v < 0 {
			t.Errorf("SimplexProj: negative entry %g", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("SimplexProj: sum = %g, want 1", sum)
	}
	for i := 1; i < len(g.g.data); i++ {
		if g.g.data[i-1] < g.g.data[i] {
			t.Errorf("SimplexProj: ordering not preserved: %v", g.g.data)
		}
	}
}

func TestScalarGridSimplexProjIgnoresZeroEntries(t *testing.T) {
	g := &ScalarGrid{g: &grid{mult: 1, data: []float64{0, 0, 0}}}
	g.SimplexProj()
	for _, v := range g.g.data {
		if v != 0 {
			t.Errorf("SimplexProj on all-zero grid: got %g, want unchanged 0", v)
		}
	}
}

func TestScalarGridIntegralAndEntropy(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 1.0, 0, 2)}
	g, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	ix := g.FirstIndex()
	n := 0
	for g.IndexOK(ix) {
		g.AccValue(ix, 2)
		n++
		g.Incr(ix)
	}

	wantIntegral := g.binVolume() * float64(n) * 2
	if got := g.Integral(); math.Abs(got-wantIntegral) > 1e-9 {
		t.Errorf("Integral: got %g, want %g", got, wantIntegral)
	}

	wantEntropy := g.binVolume() * float64(n) * (-2 * math.Log(2))
	if got := g.Entropy(); math.Abs(got-wantEntropy) > 1e-9 {
		t.Errorf("Entropy: got %g, want %g", got, wantEntropy)
	}
}

func TestScalarGridMinMaxAndAddGrid(t *testing.T) {
	g := &ScalarGrid{g: &grid{mult: 1, data: []float64{3, -1, 0, 7}}}
	if got := g.MaximumValue(); got != 7 {
		t.Errorf("MaximumValue: got %g, want 7", got)
	}
	if got := g.MinimumValue(); got != -1 {
		t.Errorf("MinimumValue: got %g, want -1", got)
	}
	if got := g.MinimumPosValue(); got != 3 {
		t.Errorf("MinimumPosValue: got %g, want 3", got)
	}

	other := &ScalarGrid{g: &grid{mult: 1, data: []float64{1, 1, 1, 1}}}
	if err := g.AddGrid(other); err != nil {
		t.Fatalf("AddGrid: %v", err)
	}
	want := []float64{4, 0, 1, 8}
	for i, w := range want {
		if g.g.data[i] != w {
			t.Errorf("AddGrid: data[%d] = %g, want %g", i, g.g.data[i], w)
		}
	}

	mismatched := &ScalarGrid{g: &grid{mult: 1, data: []float64{1}}}
	if err := g.AddGrid(mismatched); err == nil {
		t.Error("AddGrid: want error on shape mismatch, got nil")
	}
}

func TestScalarGridRemoveSmallValues(t *testing.T) {
	g := &ScalarGrid{g: &grid{mult: 1, data: []float64{0.001, 5, 0.002}}}
	g.RemoveSmallValues(0.01)
	want := []float64{0.01, 5, 0.01}
	for i, w := range want {
		if g.g.data[i] != w {
			t.Errorf("RemoveSmallValues: data[%d] = %g, want %g", i, g.g.data[i], w)
		}
	}
}
