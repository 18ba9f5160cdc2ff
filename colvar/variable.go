package colvar

import "math"

// Variable is the CV descriptor interface the bias engine consumes
// (spec.md §3.1). Evaluating the collective variable itself is out of
// scope; only the geometric metric, width, and boundary metadata the core
// needs are exposed here.
type Variable interface {
	// Name identifies the CV, used in log messages and state files.
	Name() string

	// Width is the Gaussian sigma's natural bin spacing for this CV.
	Width() float64

	// LowerBoundary, UpperBoundary return the configured grid bounds and
	// whether each is actually set (a CV may leave either open).
	LowerBoundary() (float64, bool)
	UpperBoundary() (float64, bool)

	// ExpandBoundaries reports whether the grid boundary on this CV may
	// grow during a run (spec.md §4.5 step 2).
	ExpandBoundaries() bool

	// IsPeriodic reports whether bin indices on this CV wrap modulo nx.
	IsPeriodic() bool

	// Period returns the wrap period for a periodic CV (e.g. 360 degrees,
	// 2π radians); meaningless when IsPeriodic is false.
	Period() float64

	// Kind is the Value variant this CV's values and centers use.
	Kind() Kind

	// Dist2 computes the CV's own squared-distance metric between a
	// current value and a hill center, honoring periodicity.
	Dist2(a, b Value) float64

	// Dist2LGrad computes ∂Dist2/∂a, returned as a Value of the same Kind
	// as a and b (spec.md §3.1).
	Dist2LGrad(a, b Value) Value
}

// Scalar is a concrete, periodic-or-not scalar Variable, the common case
// (dihedral angles, distances, coordination numbers, ...).
type Scalar struct {
	VarName     string
	VarWidth    float64
	LowerBound  float64
	HasLower    bool
	UpperBound  float64
	HasUpper    bool
	Periodic    bool
	PeriodValue float64
	Expand      bool
}

// NewScalarVariable builds a non-periodic scalar Variable with both boundaries set.
func NewScalarVariable(name string, width, lower, upper float64) *Scalar {
	return &Scalar{VarName: name, VarWidth: width, LowerBound: lower, HasLower: true, UpperBound: upper, HasUpper: true}
}

func (s *Scalar) Name() string                   { return s.VarName }
func (s *Scalar) Width() float64                 { return s.VarWidth }
func (s *Scalar) LowerBoundary() (float64, bool)  { return s.LowerBound, s.HasLower }
func (s *Scalar) UpperBoundary() (float64, bool)  { return s.UpperBound, s.HasUpper }
func (s *Scalar) ExpandBoundaries() bool          { return s.Expand }
func (s *Scalar) IsPeriodic() bool                { return s.Periodic }
func (s *Scalar) Period() float64                 { return s.PeriodValue }
func (s *Scalar) Kind() Kind                      { return KindScalar }

func (s *Scalar) Dist2(a, b Value) float64 {
	d := a.Scalar - b.Scalar
	if s.Periodic && s.PeriodValue > 0 {
		d = wrapDelta(d, s.PeriodValue)
	}
	return d * d
}

func (s *Scalar) Dist2LGrad(a, b Value) Value {
	d := a.Scalar - b.Scalar
	if s.Periodic && s.PeriodValue > 0 {
		d = wrapDelta(d, s.PeriodValue)
	}
	return NewScalar(2 * d)
}

// wrapDelta maps a difference into [-period/2, period/2], matching the
// minimum-image convention the source uses for periodic CVs.
func wrapDelta(d, period float64) float64 {
	d = math.Mod(d, period)
	if d > period/2 {
		d -= period
	} else if d < -period/2 {
		d += period
	}
	return d
}

// Vector3 is a 3-component Euclidean Variable (e.g. a distance vector),
// never periodic.
type Vector3 struct {
	VarName    string
	VarWidth   float64
	LowerBound float64
	HasLower   bool
	UpperBound float64
	HasUpper   bool
	Expand     bool
}

func (v *Vector3) Name() string                  { return v.VarName }
func (v *Vector3) Width() float64                { return v.VarWidth }
func (v *Vector3) LowerBoundary() (float64, bool) { return v.LowerBound, v.HasLower }
func (v *Vector3) UpperBoundary() (float64, bool) { return v.UpperBound, v.HasUpper }
func (v *Vector3) ExpandBoundaries() bool         { return v.Expand }
func (v *Vector3) IsPeriodic() bool               { return false }
func (v *Vector3) Period() float64                { return 0 }
func (v *Vector3) Kind() Kind                     { return KindVector3 }

func (v *Vector3) Dist2(a, b Value) float64 {
	sq := 0.
	for i := 0; i < 3; i++ {
		d := a.Vec3[i] - b.Vec3[i]
		sq += d * d
	}
	return sq
}

func (v *Vector3) Dist2LGrad(a, b Value) Value {
	return NewVector3(2*(a.Vec3[0]-b.Vec3[0]), 2*(a.Vec3[1]-b.Vec3[1]), 2*(a.Vec3[2]-b.Vec3[2]))
}

// UnitVector3 is a unit-3-vector Variable whose metric is 1-cos(angle)
// between a and b, the colvars convention for orientation-like CVs.
type UnitVector3 struct {
	VarName  string
	VarWidth float64
	Expand   bool
}

func (u *UnitVector3) Name() string                  { return u.VarName }
func (u *UnitVector3) Width() float64                { return u.VarWidth }
func (u *UnitVector3) LowerBoundary() (float64, bool) { return -1, true }
func (u *UnitVector3) UpperBoundary() (float64, bool) { return 1, true }
func (u *UnitVector3) ExpandBoundaries() bool         { return u.Expand }
func (u *UnitVector3) IsPeriodic() bool               { return false }
func (u *UnitVector3) Period() float64                { return 0 }
func (u *UnitVector3) Kind() Kind                      { return KindUnit3 }

func (u *UnitVector3) Dist2(a, b Value) float64 {
	dot := a.Vec3[0]*b.Vec3[0] + a.Vec3[1]*b.Vec3[1] + a.Vec3[2]*b.Vec3[2]
	return 1 - dot
}

func (u *UnitVector3) Dist2LGrad(a, b Value) Value {
	return NewVector3(-b.Vec3[0], -b.Vec3[1], -b.Vec3[2])
}

// Quaternion is a quaternion-valued Variable whose metric is the standard
// colvars orientation distance 1-(a·b)^2.
type Quaternion struct {
	VarName  string
	VarWidth float64
	Expand   bool
}

func (q *Quaternion) Name() string                  { return q.VarName }
func (q *Quaternion) Width() float64                { return q.VarWidth }
func (q *Quaternion) LowerBoundary() (float64, bool) { return 0, false }
func (q *Quaternion) UpperBoundary() (float64, bool) { return 0, false }
func (q *Quaternion) ExpandBoundaries() bool         { return q.Expand }
func (q *Quaternion) IsPeriodic() bool               { return false }
func (q *Quaternion) Period() float64                { return 0 }
func (q *Quaternion) Kind() Kind                      { return KindQuaternion }

func (q *Quaternion) Dist2(a, b Value) float64 {
	dot := 0.
	for i := 0; i < 4; i++ {
		dot += a.Quat[i] * b.Quat[i]
	}
	return 1 - dot*dot
}

func (q *Quaternion) Dist2LGrad(a, b Value) Value {
	dot := 0.
	for i := 0; i < 4; i++ {
		dot += a.Quat[i] * b.Quat[i]
	}
	out := [4]float64{}
	for i := 0; i < 4; i++ {
		out[i] = -2 * dot * b.Quat[i]
	}
	return Value{Kind: KindQuaternion, Quat: out}
}

// Vector1D is an arbitrary-length Euclidean Variable.
type Vector1D struct {
	VarName    string
	VarWidth   float64
	LowerBound float64
	HasLower   bool
	UpperBound float64
	HasUpper   bool
	Expand     bool
}

func (v *Vector1D) Name() string                  { return v.VarName }
func (v *Vector1D) Width() float64                { return v.VarWidth }
func (v *Vector1D) LowerBoundary() (float64, bool) { return v.LowerBound, v.HasLower }
func (v *Vector1D) UpperBoundary() (float64, bool) { return v.UpperBound, v.HasUpper }
func (v *Vector1D) ExpandBoundaries() bool         { return v.Expand }
func (v *Vector1D) IsPeriodic() bool               { return false }
func (v *Vector1D) Period() float64                { return 0 }
func (v *Vector1D) Kind() Kind                      { return KindVector1D }

func (v *Vector1D) Dist2(a, b Value) float64 {
	sq := 0.
	for i := range a.Vector1 {
		d := a.Vector1[i] - b.Vector1[i]
		sq += d * d
	}
	return sq
}

func (v *Vector1D) Dist2LGrad(a, b Value) Value {
	out := make([]float64, len(a.Vector1))
	for i := range a.Vector1 {
		out[i] = 2 * (a.Vector1[i] - b.Vector1[i])
	}
	return NewVector1D(out)
}
