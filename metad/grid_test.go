package metad

import (
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

func TestGridBinOfAndBoundaries(t *testing.T) {
	v := colvar.NewScalarVariable("d", 0.1, 0, 1)
	g, err := newGrid([]colvar.Variable{v}, 1, true)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}

	ix := g.binOf([]colvar.Value{colvar.NewScalar(0.25)})
	if !g.indexOK(ix) {
		t.Fatalf("indexOK(%v): want true", ix)
	}
	center := g.binCenter(ix)
	if center[0] < 0.2 || center[0] > 0.3 {
		t.Errorf("binCenter: got %v, want near 0.25", center)
	}

	outside := g.binOf([]colvar.Value{colvar.NewScalar(-5)})
	if g.indexOK(outside) {
		t.Errorf("indexOK(%v): want false for an out-of-range value", outside)
	}
}

func TestGridMarginAddsOneBinPerSide(t *testing.T) {
	v := colvar.NewScalarVariable("d", 0.5, 0, 1)
	withMargin, err := newGrid([]colvar.Variable{v}, 1, true)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	withoutMargin, err := newGrid([]colvar.Variable{v}, 1, false)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	if withMargin.nx[0] != withoutMargin.nx[0]+2 {
		t.Errorf("margin bins: got %d, want %d", withMargin.nx[0], withoutMargin.nx[0]+2)
	}
}

func TestGridMapGridPreservesContentsOnExpansion(t *testing.T) {
	// Grid-expansion scenario (spec.md §8): old bin values survive a
	// boundary-growing map_grid at the same physical coordinate.
	v := colvar.NewScalarVariable("d", 0.1, 0, 1)
	old, err := newGrid([]colvar.Variable{v}, 1, true)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	ix := old.binOf([]colvar.Value{colvar.NewScalar(0.5)})
	old.data[old.flatIndex(ix)] = 42

	v2 := colvar.NewScalarVariable("d", 0.1, 0, 1.6)
	grown, err := newGrid([]colvar.Variable{v2}, 1, true)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	grown.mapGrid(old)

	newIx := grown.binOf([]colvar.Value{colvar.NewScalar(0.5)})
	if got := grown.data[grown.flatIndex(newIx)]; got != 42 {
		t.Errorf("mapGrid: old bin value lost, got %g want 42", got)
	}
}

func TestGridIncrScansEveryBinExactlyOnce(t *testing.T) {
	v := colvar.NewScalarVariable("d", 0.5, 0, 1)
	g, err := newGrid([]colvar.Variable{v}, 1, false)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	ix := g.firstIndex()
	n := 0
	for g.indexOK(ix) {
		n++
		g.incr(ix)
	}
	if n != g.nx[0] {
		t.Errorf("scanned %d bins, want %d", n, g.nx[0])
	}
}

func TestGridCloneIsIndependent(t *testing.T) {
	v := colvar.NewScalarVariable("d", 0.5, 0, 1)
	g, err := newGrid([]colvar.Variable{v}, 1, false)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	g.data[0] = 5
	c := g.clone()
	c.data[0] = 9
	if g.data[0] != 5 {
		t.Errorf("clone mutation leaked into original: got %g, want 5", g.data[0])
	}
}
