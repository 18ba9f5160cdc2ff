package metad

import (
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

func TestEffectiveIntervalsDefaultsToReflectionWhenUnconfigured(t *testing.T) {
	lo, hi := -1.0, 1.0
	reflection := []reflectionLimit{{lower: &lo, upper: &hi}}
	configured := []intervalLimit{{}}

	out := effectiveIntervals(configured, true, reflection)
	if out[0].lower != &lo || out[0].upper != &hi {
		t.Errorf("effectiveIntervals: want reflection limits to carry over, got %+v", out[0])
	}
}

func TestEffectiveIntervalsExplicitConfigNotOverridden(t *testing.T) {
	reflo, refhi := -1.0, 1.0
	ivlo := -0.5
	reflection := []reflectionLimit{{lower: &reflo, upper: &refhi}}
	configured := []intervalLimit{{lower: &ivlo}}

	out := effectiveIntervals(configured, true, reflection)
	if out[0].lower != &ivlo {
		t.Error("effectiveIntervals: explicit interval lower bound should not be overridden")
	}
	if out[0].upper != nil {
		t.Error("effectiveIntervals: a partially-configured interval should not pull in reflection's upper bound")
	}
}

func TestEffectiveIntervalsNoReflectionLeavesUnconfigured(t *testing.T) {
	configured := []intervalLimit{{}}
	out := effectiveIntervals(configured, false, nil)
	if out[0].lower != nil || out[0].upper != nil {
		t.Errorf("effectiveIntervals: want unconfigured limits when reflection is inactive, got %+v", out[0])
	}
}

func TestClipForcesZerosOutsideInterval(t *testing.T) {
	lo, hi := 0.0, 1.0
	limits := []intervalLimit{{lower: &lo, upper: &hi}}

	x := []colvar.Value{colvar.NewScalar(1.5)}
	forces := []colvar.Value{colvar.NewScalar(3.0)}
	clipForces(limits, x, forces)
	if forces[0].Scalar != 0 {
		t.Errorf("clipForces: want 0 outside interval, got %g", forces[0].Scalar)
	}

	x[0] = colvar.NewScalar(0.5)
	forces[0] = colvar.NewScalar(3.0)
	clipForces(limits, x, forces)
	if forces[0].Scalar != 3.0 {
		t.Errorf("clipForces: want unchanged inside interval, got %g", forces[0].Scalar)
	}
}
