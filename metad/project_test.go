package metad

import (
	"math"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

// TestProjectHillsMatchesAnalyticSum implements spec.md §8 invariant 3:
// project_hills's grid values must agree with direct analytic summation at
// each bin's own center.
func TestProjectHillsMatchesAnalyticSum(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -1, 1)}
	eg, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	sample := []colvar.Value{colvar.NewScalar(0)}
	gg, err := NewGradientGrid(vars, sample)
	if err != nil {
		t.Fatalf("NewGradientGrid: %v", err)
	}

	hills := []*Hill{
		{Weight: 1.0, ScaleFactor: 1, Centers: []colvar.Value{colvar.NewScalar(0.1)}, Sigmas: []float64{0.2}},
		{Weight: 0.5, ScaleFactor: 1, Centers: []colvar.Value{colvar.NewScalar(-0.3)}, Sigmas: []float64{0.2}},
	}
	each := func(f func(*Hill)) {
		for _, h := range hills {
			f(h)
		}
	}
	if err := projectHills(vars, hills, eg, gg, nil); err != nil {
		t.Fatalf("projectHills: %v", err)
	}

	ix := eg.FirstIndex()
	checked := 0
	for eg.IndexOK(ix) {
		center := []colvar.Value{colvar.NewScalar(eg.BinToValue(ix, 0))}
		want := calcHills(vars, center, each)
		if got := eg.Value(ix); math.Abs(got-want) > 1e-9 {
			t.Errorf("grid value at %v: got %g, want %g", ix, got, want)
		}
		checked++
		eg.Incr(ix)
	}
	if checked == 0 {
		t.Fatal("no grid bins were scanned")
	}
}

func TestProjectHillsForceMatchesAnalyticGradient(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -1, 1)}
	eg, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	sample := []colvar.Value{colvar.NewScalar(0)}
	gg, err := NewGradientGrid(vars, sample)
	if err != nil {
		t.Fatalf("NewGradientGrid: %v", err)
	}

	hills := []*Hill{
		{Weight: 1.0, ScaleFactor: 1, Centers: []colvar.Value{colvar.NewScalar(0)}, Sigmas: []float64{0.2}},
	}
	each := func(f func(*Hill)) { f(hills[0]) }
	if err := projectHills(vars, hills, eg, gg, nil); err != nil {
		t.Fatalf("projectHills: %v", err)
	}

	ix := gg.BinOf([]colvar.Value{colvar.NewScalar(0.2)})
	if !gg.IndexOK(ix) {
		t.Fatal("bin at 0.2 is out of range")
	}
	center := []colvar.Value{colvar.NewScalar(gg.BinToValue(ix, 0))}
	wantForce := calcHillsForce(vars, center, each)
	gotForce := gg.Force(ix)
	if math.Abs(gotForce[0]-wantForce[0].Scalar) > 1e-9 {
		t.Errorf("gradient grid at %v: got %g, want %g", ix, gotForce[0], wantForce[0].Scalar)
	}
}

func TestProjectHillsRequiresGradientGrid(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -1, 1)}
	eg, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	if err := projectHills(vars, nil, eg, nil, nil); err == nil {
		t.Fatal("projectHills: want error without a gradient grid, got nil")
	}
}

func TestProjectHillsReportsProgress(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -1, 1)}
	eg, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	sample := []colvar.Value{colvar.NewScalar(0)}
	gg, err := NewGradientGrid(vars, sample)
	if err != nil {
		t.Fatalf("NewGradientGrid: %v", err)
	}
	hills := []*Hill{{Weight: 1, ScaleFactor: 1, Centers: []colvar.Value{colvar.NewScalar(0)}, Sigmas: []float64{0.2}}}

	var calls int
	err = projectHills(vars, hills, eg, gg, func(int64) { calls++ })
	if err != nil {
		t.Fatalf("projectHills: %v", err)
	}
	if calls == 0 {
		t.Error("progress callback was never invoked")
	}
}
