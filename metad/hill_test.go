package metad

import (
	"math"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

func TestHillListAddDeleteEach(t *testing.T) {
	l := newHillList()
	h1 := l.Add(Hill{Step: 1})
	h2 := l.Add(Hill{Step: 2})
	l.Add(Hill{Step: 3})

	if l.Len() != 3 {
		t.Fatalf("Len: want 3, got %d", l.Len())
	}
	if !h1.Valid() || !h2.Valid() {
		t.Fatal("freshly added handles should be valid")
	}

	if !l.Delete(h2) {
		t.Fatal("Delete: want true")
	}
	if h2.Valid() {
		t.Error("deleted handle should be invalid")
	}
	if l.Len() != 2 {
		t.Errorf("Len after delete: want 2, got %d", l.Len())
	}

	var steps []int64
	l.Each(func(h *Hill) { steps = append(steps, h.Step) })
	if len(steps) != 2 || steps[0] != 1 || steps[1] != 3 {
		t.Errorf("Each after delete: got %v, want [1 3]", steps)
	}
}

func TestHillListEraseBeforeKeepsStopOnward(t *testing.T) {
	l := newHillList()
	l.Add(Hill{Step: 1})
	l.Add(Hill{Step: 2})
	stopHandle := l.Add(Hill{Step: 3})
	l.Add(Hill{Step: 4})

	l.EraseBefore(stopHandle.node)

	var steps []int64
	l.Each(func(h *Hill) { steps = append(steps, h.Step) })
	if len(steps) != 2 || steps[0] != 3 || steps[1] != 4 {
		t.Errorf("Each after EraseBefore: got %v, want [3 4]", steps)
	}
	if l.Len() != 2 {
		t.Errorf("Len after EraseBefore: want 2, got %d", l.Len())
	}
}

func TestHillListEachFromZeroHandleWalksWholeList(t *testing.T) {
	l := newHillList()
	l.Add(Hill{Step: 1})
	l.Add(Hill{Step: 2})

	var steps []int64
	l.EachFrom(HillHandle{}, func(h *Hill) { steps = append(steps, h.Step) })
	if len(steps) != 2 {
		t.Errorf("EachFrom(zero handle): got %d hills, want 2", len(steps))
	}
}

func TestHillValueGaussianAndCutoff(t *testing.T) {
	// Single hill, scalar CV scenario (spec.md §8): the Gaussian factor at
	// x=0.2 for a hill centered at 0 with sigma=0.2 is exp(-0.5).
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	h := &Hill{Centers: []colvar.Value{colvar.NewScalar(0)}, Sigmas: []float64{0.2}}
	got := hillValue(vars, []colvar.Value{colvar.NewScalar(0.2)}, h)
	want := math.Exp(-0.5)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("hillValue: got %g, want %g", got, want)
	}
	if math.Abs(h.CachedValue-want) > 1e-9 {
		t.Errorf("CachedValue not updated: got %g, want %g", h.CachedValue, want)
	}

	far := &Hill{Centers: []colvar.Value{colvar.NewScalar(0)}, Sigmas: []float64{0.01}}
	if got := hillValue(vars, []colvar.Value{colvar.NewScalar(10)}, far); got != 0 {
		t.Errorf("hillValue past cutoff: got %g, want 0", got)
	}
	if far.CachedValue != 0 {
		t.Errorf("CachedValue past cutoff: got %g, want 0", far.CachedValue)
	}
}
