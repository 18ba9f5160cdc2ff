package metad

import (
	"math"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/proxy"
)

// TestDepositScaleEBMetaScalesUpUndersampledRegion is a regression test for
// the ebMeta deposition-scale direction (spec.md §4.5 step 3): s must equal
// 1/target_dist(bin), so hills grow, not shrink, where the target
// distribution says the region is undersampled.
func TestDepositScaleEBMetaScalesUpUndersampledRegion(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.5, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())

	target, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	ix := target.BinOf([]colvar.Value{colvar.NewScalar(0)})
	target.AccValue(ix, 0.1)

	b, err := NewBias("test", vars, md, Config{
		HillWeight: 1, NewHillFrequency: 1, HillWidth: 1,
		EBMeta: true, TargetDist: target, TargetDistMinVal: 0.01,
	})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}

	s := b.depositScale([]colvar.Value{colvar.NewScalar(0)})
	want := 1 / 0.1
	if math.Abs(s-want) > 1e-9 {
		t.Errorf("depositScale: got %g, want %g (must scale as 1/target, not target)", s, want)
	}
}

func TestDepositScaleEBMetaEquilibrationRamp(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.5, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())

	target, err := NewScalarGrid(vars)
	if err != nil {
		t.Fatalf("NewScalarGrid: %v", err)
	}
	ix := target.BinOf([]colvar.Value{colvar.NewScalar(0)})
	target.AccValue(ix, 0.1)

	b, err := NewBias("test", vars, md, Config{
		HillWeight: 1, NewHillFrequency: 1, HillWidth: 1,
		EBMeta: true, TargetDist: target, TargetDistMinVal: 0.01,
		EBMetaEquilSteps: 100,
	})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}

	b.step = 0
	atStart := b.depositScale([]colvar.Value{colvar.NewScalar(0)})
	if math.Abs(atStart-1) > 1e-9 {
		t.Errorf("depositScale at step 0 of equilibration: got %g, want 1 (fully ramped down)", atStart)
	}

	b.step = 100
	atEnd := b.depositScale([]colvar.Value{colvar.NewScalar(0)})
	want := 1 / 0.1
	if math.Abs(atEnd-want) > 1e-9 {
		t.Errorf("depositScale past equilibration: got %g, want %g", atEnd, want)
	}
}

// TestWellTemperedScalingScenario implements spec.md §8's well-tempered
// scaling scenario: reusing the single-hill scenario's E_here=0.6065 at
// x=0.2 with kT_bias=1.0, the deposited weight is exp(-0.6065) ≈ 0.545.
// This also regression-tests the ebMeta fix's sibling well-tempered path.
func TestWellTemperedScalingScenario(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{HillWeight: 1, NewHillFrequency: 1000, HillWidth: 1})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	b.addHill(Hill{Weight: 1, ScaleFactor: 1, Centers: []colvar.Value{colvar.NewScalar(0)}, Sigmas: []float64{0.2}})

	b.cfg.WellTempered = true
	b.cfg.BiasTemperature = 1 / md.BoltzmannConstant() // kT_bias == 1.0

	s := b.depositScale([]colvar.Value{colvar.NewScalar(0.2)})
	eHere := math.Exp(-0.5)
	want := math.Exp(-eHere)
	if math.Abs(s-want) > 1e-6 {
		t.Errorf("depositScale well-tempered: got %g, want %g (≈0.545)", s, want)
	}
}

// TestStepSingleHillScenario implements spec.md §8's "Single hill, scalar
// CV" scenario end to end through Bias.Step/CalcEnergy.
func TestStepSingleHillScenario(t *testing.T) {
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{HillWeight: 1, NewHillFrequency: 1, HillWidth: 4})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	md.StepNum = 1
	if _, err := b.Step([]colvar.Value{colvar.NewScalar(0)}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	e, err := b.CalcEnergy([]colvar.Value{colvar.NewScalar(0.2)})
	if err != nil {
		t.Fatalf("CalcEnergy: %v", err)
	}
	// HillWidth=4 with CV width 0.1 gives sigma = 0.1*4/2 = 0.2, matching
	// the single-hill scenario's σ=0.2 exactly.
	want := math.Exp(-0.5)
	if math.Abs(e-want) > 1e-9 {
		t.Errorf("CalcEnergy: got %g, want %g", e, want)
	}
}

// TestStepReflectionScenario implements spec.md §8's reflection (mono)
// scenario through Bias.Step: depositing at x=0.95 against an upper
// reflection limit of 1.0 must also deposit a mirror hill at 1.05.
func TestStepReflectionScenario(t *testing.T) {
	upper := 1.0
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{
		HillWeight: 1, NewHillFrequency: 1, HillWidth: 2,
		ReflectionType: ReflectionMono, ReflectionRange: 6,
		ReflectionUpper: []*float64{&upper},
	})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	md.StepNum = 1
	if _, err := b.Step([]colvar.Value{colvar.NewScalar(0.95)}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	var centers []float64
	b.hills.Each(func(h *Hill) { centers = append(centers, h.Centers[0].Scalar) })
	if len(centers) != 2 {
		t.Fatalf("hills after reflection: got %d, want 2", len(centers))
	}
	if math.Abs(centers[0]-0.95) > 1e-9 || math.Abs(centers[1]-1.05) > 1e-9 {
		t.Errorf("hill centers: got %v, want [0.95 1.05]", centers)
	}
}

func TestStepSkipsDepositionOutsideReflectionLimit(t *testing.T) {
	upper := 1.0
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{
		HillWeight: 1, NewHillFrequency: 1, HillWidth: 2,
		ReflectionType: ReflectionMono, ReflectionRange: 6,
		ReflectionUpper: []*float64{&upper},
	})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	md.StepNum = 1
	if _, err := b.Step([]colvar.Value{colvar.NewScalar(1.5)}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if b.hills.Len() != 0 {
		t.Errorf("hills after out-of-range deposition attempt: got %d, want 0", b.hills.Len())
	}
}

// TestMaybeExpandGridsPreservesOldContentsScenario implements spec.md §8's
// grid-expansion scenario: boundaries [0,1], width 0.1, a CV drift to 1.2
// grows the upper boundary to 1.2 + min_buffer*0.1 while old bin contents
// survive the re-map.
func TestMaybeExpandGridsPreservesOldContentsScenario(t *testing.T) {
	v := &colvar.Scalar{VarName: "d", VarWidth: 0.1, LowerBound: 0, HasLower: true, UpperBound: 1, HasUpper: true, Expand: true}
	vars := []colvar.Variable{v}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{HillWeight: 1, NewHillFrequency: 1000, HillWidth: 1, UseGrids: true})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}

	ix := b.energyGrid.BinOf([]colvar.Value{colvar.NewScalar(0.5)})
	b.energyGrid.AccValue(ix, 7)
	oldValue := b.energyGrid.Value(ix)

	if err := b.maybeExpandGrids([]colvar.Value{colvar.NewScalar(1.2)}); err != nil {
		t.Fatalf("maybeExpandGrids: %v", err)
	}

	wantUpper := 1.2 + float64(minBuffer(1))*0.1
	gotUpper, _ := v.UpperBoundary()
	if math.Abs(gotUpper-wantUpper) > 1e-9 {
		t.Errorf("upper boundary: got %g, want %g", gotUpper, wantUpper)
	}

	newIx := b.energyGrid.BinOf([]colvar.Value{colvar.NewScalar(0.5)})
	if got := b.energyGrid.Value(newIx); math.Abs(got-oldValue) > 1e-9 {
		t.Errorf("grid value at 0.5 after expansion: got %g, want %g (preserved)", got, oldValue)
	}
}

func TestMaybeExpandGridsNoOpWithoutDrift(t *testing.T) {
	v := &colvar.Scalar{VarName: "d", VarWidth: 0.1, LowerBound: 0, HasLower: true, UpperBound: 1, HasUpper: true, Expand: true}
	vars := []colvar.Variable{v}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("test", vars, md, Config{HillWeight: 1, NewHillFrequency: 1000, HillWidth: 1, UseGrids: true})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	gridBefore := b.energyGrid
	if err := b.maybeExpandGrids([]colvar.Value{colvar.NewScalar(0.5)}); err != nil {
		t.Fatalf("maybeExpandGrids: %v", err)
	}
	if b.energyGrid != gridBefore {
		t.Error("maybeExpandGrids reallocated the grid without any boundary drift")
	}
}
