/*
Copyright © 2013 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package colvar holds the collective-variable value types consumed by the
// metadynamics bias engine. The simulation driver and the CV evaluation
// layer itself are out of scope (spec.md §1); this package only fixes the
// variant shapes the core dispatches on.
package colvar

import "fmt"

// Kind identifies the runtime shape of a Value, replacing the source's
// runtime-typed polymorphism over CV value variants (Design Note §9) with a
// single tagged union dispatched at force-accumulation time.
type Kind int

// The seven value variants named in spec.md §3.1 and Design Note §9.
const (
	KindScalar Kind = iota
	KindVector3
	KindUnit3
	KindUnit3Deriv
	KindQuaternion
	KindQuaternionDeriv
	KindVector1D
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector3:
		return "vector3"
	case KindUnit3:
		return "unit3"
	case KindUnit3Deriv:
		return "unit3deriv"
	case KindQuaternion:
		return "quaternion"
	case KindQuaternionDeriv:
		return "quaternionderiv"
	case KindVector1D:
		return "vector1d"
	default:
		return fmt.Sprintf("colvar.Kind(%d)", int(k))
	}
}

// Size returns the static component count for Kind values whose
// dimensionality doesn't depend on a particular instance (everything
// except KindVector1D, which reports 1 as a grid-binning fallback — see
// the scalar-progress-coordinate convention at scalarOf in metad/grid.go).
func (k Kind) Size() int {
	switch k {
	case KindScalar, KindVector1D:
		return 1
	case KindVector3, KindUnit3, KindUnit3Deriv:
		return 3
	case KindQuaternion, KindQuaternionDeriv:
		return 4
	default:
		return 1
	}
}

// Value is a tagged-union CV value. Exactly the fields relevant to Kind are
// meaningful; the rest are zero. Scalar, Vector3/Unit3/Unit3Deriv, and
// Quaternion/QuaternionDeriv are fixed-size so Value can be copied by value;
// Vector1D is the one variable-length variant.
type Value struct {
	Kind    Kind
	Scalar  float64
	Vec3    [3]float64
	Quat    [4]float64
	Vector1 []float64
}

// NewScalar builds a scalar Value.
func NewScalar(x float64) Value { return Value{Kind: KindScalar, Scalar: x} }

// NewVector3 builds a 3-vector Value.
func NewVector3(x, y, z float64) Value {
	return Value{Kind: KindVector3, Vec3: [3]float64{x, y, z}}
}

// NewUnit3 builds a unit-3-vector Value.
func NewUnit3(x, y, z float64) Value {
	return Value{Kind: KindUnit3, Vec3: [3]float64{x, y, z}}
}

// NewQuaternion builds a quaternion Value (w, x, y, z).
func NewQuaternion(w, x, y, z float64) Value {
	return Value{Kind: KindQuaternion, Quat: [4]float64{w, x, y, z}}
}

// NewVector1D builds an arbitrary-length vector Value.
func NewVector1D(v []float64) Value {
	out := make([]float64, len(v))
	copy(out, v)
	return Value{Kind: KindVector1D, Vector1: out}
}

// NumComponents returns how many independent reals this variant carries.
// GradientGrid sizes its per-bin storage from the sum of NumComponents
// across a Bias's CV list (spec.md §2, "per-CV gradient vectors").
func (v Value) NumComponents() int {
	switch v.Kind {
	case KindScalar:
		return 1
	case KindVector3, KindUnit3, KindUnit3Deriv:
		return 3
	case KindQuaternion, KindQuaternionDeriv:
		return 4
	case KindVector1D:
		return len(v.Vector1)
	default:
		return 0
	}
}

// Components flattens the value to a slice of reals in a fixed, Kind-specific
// order. It is the "uniform accumulate interface" Design Note §9 calls for.
func (v Value) Components() []float64 {
	switch v.Kind {
	case KindScalar:
		return []float64{v.Scalar}
	case KindVector3, KindUnit3, KindUnit3Deriv:
		return []float64{v.Vec3[0], v.Vec3[1], v.Vec3[2]}
	case KindQuaternion, KindQuaternionDeriv:
		return []float64{v.Quat[0], v.Quat[1], v.Quat[2], v.Quat[3]}
	case KindVector1D:
		out := make([]float64, len(v.Vector1))
		copy(out, v.Vector1)
		return out
	default:
		return nil
	}
}

// FromComponents rebuilds a Value of the given Kind from a flat component
// slice, the inverse of Components.
func FromComponents(k Kind, c []float64) Value {
	switch k {
	case KindScalar:
		return Value{Kind: k, Scalar: c[0]}
	case KindVector3, KindUnit3, KindUnit3Deriv:
		return Value{Kind: k, Vec3: [3]float64{c[0], c[1], c[2]}}
	case KindQuaternion, KindQuaternionDeriv:
		return Value{Kind: k, Quat: [4]float64{c[0], c[1], c[2], c[3]}}
	case KindVector1D:
		return NewVector1D(c)
	default:
		return Value{Kind: k}
	}
}

// Scale returns v scaled by a real, the "scale-by-real" half of the uniform
// interface Design Note §9 requires of every value variant.
func (v Value) Scale(s float64) Value {
	c := v.Components()
	for i := range c {
		c[i] *= s
	}
	return FromComponents(v.Kind, c)
}

// Add returns the component-wise sum of v and o, which must share a Kind.
func (v Value) Add(o Value) Value {
	c, d := v.Components(), o.Components()
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i] + d[i]
	}
	return FromComponents(v.Kind, out)
}
