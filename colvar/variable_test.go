package colvar_test

import (
	"testing"

	"github.com/spatialmodel/colvars/colvar"
)

func TestScalarDist2Periodic(t *testing.T) {
	s := &colvar.Scalar{VarName: "phi", VarWidth: 5, Periodic: true, PeriodValue: 360}
	a := colvar.NewScalar(179)
	b := colvar.NewScalar(-179)
	// the minimum-image distance is 2 degrees, not 358.
	want := 2.0 * 2.0
	if got := s.Dist2(a, b); got != want {
		t.Errorf("Dist2: want %v, got %v", want, got)
	}
}

func TestScalarDist2NonPeriodic(t *testing.T) {
	s := colvar.NewScalarVariable("d", 0.1, 0, 10)
	a := colvar.NewScalar(3)
	b := colvar.NewScalar(5)
	if got := s.Dist2(a, b); got != 4 {
		t.Errorf("Dist2: want 4, got %v", got)
	}
	if lo, ok := s.LowerBoundary(); lo != 0 || !ok {
		t.Errorf("LowerBoundary: want (0, true), got (%v, %v)", lo, ok)
	}
	if up, ok := s.UpperBoundary(); up != 10 || !ok {
		t.Errorf("UpperBoundary: want (10, true), got (%v, %v)", up, ok)
	}
}

func TestScalarDist2LGrad(t *testing.T) {
	s := colvar.NewScalarVariable("d", 0.1, 0, 10)
	a := colvar.NewScalar(5)
	b := colvar.NewScalar(3)
	grad := s.Dist2LGrad(a, b)
	if grad.Scalar != 4 {
		t.Errorf("Dist2LGrad: want 4, got %v", grad.Scalar)
	}
}
