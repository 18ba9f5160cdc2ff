package metad

import (
	"bytes"
	"math"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/proxy"
)

func newTestBias(t *testing.T) (*Bias, *proxy.ReferenceMD) {
	t.Helper()
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.5, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{HillWeight: 0.1, NewHillFrequency: 1, HillWidth: 1})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	return b, md
}

func TestStateTextRoundTrip(t *testing.T) {
	b, md := newTestBias(t)
	for i := int64(1); i <= 3; i++ {
		md.StepNum = i
		if _, err := b.Step([]colvar.Value{colvar.NewScalar(float64(i))}); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	var want int
	b.hills.Each(func(*Hill) { want++ })
	if want == 0 {
		t.Fatal("expected at least one deposited hill before round-tripping state")
	}

	var buf bytes.Buffer
	if err := b.WriteStateText(&buf); err != nil {
		t.Fatalf("WriteStateText: %v", err)
	}

	b2, _ := newTestBias(t)
	if err := b2.ReadStateText(&buf); err != nil {
		t.Fatalf("ReadStateText: %v", err)
	}

	var got int
	b2.hills.Each(func(*Hill) { got++ })
	if got != want {
		t.Errorf("hill count after round trip: want %d, got %d", want, got)
	}
}

// TestStateTextRoundTripPreservesGrids is a regression test for the
// text-restart format silently dropping grid contents: with grids enabled
// and keepHills=false, the energy recomputed after a text-format save/load
// cycle must match the energy immediately before saving (spec.md §8
// invariant 7, §4.8).
func TestStateTextRoundTripPreservesGrids(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.5, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	cfg := Config{HillWeight: 0.1, NewHillFrequency: 1, HillWidth: 1, UseGrids: true, GridsUpdateFrequency: 1}
	b, err := NewBias("test", vars, md, cfg)
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		md.StepNum = i
		if _, err := b.Step([]colvar.Value{colvar.NewScalar(float64(i) * 0.2)}); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	x := []colvar.Value{colvar.NewScalar(0.3)}
	wantEnergy, err := b.CalcEnergy(x)
	if err != nil {
		t.Fatalf("CalcEnergy before round trip: %v", err)
	}

	var buf bytes.Buffer
	if err := b.WriteStateText(&buf); err != nil {
		t.Fatalf("WriteStateText: %v", err)
	}

	b2, err := NewBias("test", vars, proxy.NewReferenceMD(t.TempDir()), cfg)
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	if err := b2.ReadStateText(&buf); err != nil {
		t.Fatalf("ReadStateText: %v", err)
	}

	gotEnergy, err := b2.CalcEnergy(x)
	if err != nil {
		t.Fatalf("CalcEnergy after round trip: %v", err)
	}
	if math.Abs(gotEnergy-wantEnergy) > 1e-9 {
		t.Errorf("energy after text restart: got %g, want %g (grid contents must survive the round trip)", gotEnergy, wantEnergy)
	}
}

func TestStateBinaryRoundTrip(t *testing.T) {
	b, md := newTestBias(t)
	for i := int64(1); i <= 3; i++ {
		md.StepNum = i
		if _, err := b.Step([]colvar.Value{colvar.NewScalar(float64(i))}); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := b.WriteStateBinary(&buf); err != nil {
		t.Fatalf("WriteStateBinary: %v", err)
	}

	b2, _ := newTestBias(t)
	if err := b2.ReadStateBinary(&buf); err != nil {
		t.Fatalf("ReadStateBinary: %v", err)
	}

	var want, got int
	b.hills.Each(func(*Hill) { want++ })
	b2.hills.Each(func(*Hill) { got++ })
	if got != want {
		t.Errorf("hill count after binary round trip: want %d, got %d", want, got)
	}
}
