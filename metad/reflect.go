package metad

import (
	"fmt"

	"github.com/spatialmodel/colvars/colvar"
)

// ReflectionType selects how reflection hills are enumerated (spec.md §4.3,
// configuration key reflectionType).
type ReflectionType int

const (
	// ReflectionNone disables reflection entirely.
	ReflectionNone ReflectionType = iota
	// ReflectionMono deposits at most one mirror hill per configured
	// limit, independently per dimension.
	ReflectionMono
	// ReflectionMulti enumerates every non-empty subset of
	// reflection-limited dimensions and every combination of low/high
	// limit per included dimension.
	ReflectionMulti
)

// reflectionLimit holds the configured lower and/or upper reflection
// boundary for one dimension; either pointer may be nil if that side is
// unconfigured.
type reflectionLimit struct {
	lower, upper *float64
}

func (r reflectionLimit) configured() bool { return r.lower != nil || r.upper != nil }

// planReflections enumerates the mirror hills to deposit alongside a
// primary hill centered at center with the given sigmas, given x (the
// current CV position that triggered deposition) and the per-dimension
// reflection limits (spec.md §4.3).
func planReflections(rtype ReflectionType, limits []reflectionLimit, reflectionRange float64, x []colvar.Value, center []colvar.Value, sigmas []float64) [][]colvar.Value {
	if rtype == ReflectionNone {
		return nil
	}

	switch rtype {
	case ReflectionMono:
		return planMono(limits, reflectionRange, x, center, sigmas)
	case ReflectionMulti:
		return planMulti(limits, reflectionRange, x, center, sigmas)
	default:
		return nil
	}
}

func planMono(limits []reflectionLimit, reflectionRange float64, x, center []colvar.Value, sigmas []float64) [][]colvar.Value {
	var out [][]colvar.Value
	for d, lim := range limits {
		if lim.lower != nil && withinRange(x[d], *lim.lower, reflectionRange, sigmas[d]) {
			out = append(out, mirrorAt(center, d, *lim.lower))
		}
		if lim.upper != nil && withinRange(x[d], *lim.upper, reflectionRange, sigmas[d]) {
			out = append(out, mirrorAt(center, d, *lim.upper))
		}
	}
	return out
}

// planMulti implements the multidimensional reflection mode (spec.md §4.3).
// The subset/combination enumeration walks dims in ascending index order
// so results are deterministic; the source's decimal-digit subset
// encoding is not reproduced, only the resulting set of mirror hills.
func planMulti(limits []reflectionLimit, reflectionRange float64, x, center []colvar.Value, sigmas []float64) [][]colvar.Value {
	var refDims []int
	for d, lim := range limits {
		if lim.configured() {
			refDims = append(refDims, d)
		}
	}
	n := len(refDims)
	if n == 0 {
		return nil
	}

	var out [][]colvar.Value
	// subsetMask enumerates every non-empty subset of refDims.
	for subsetMask := 1; subsetMask < (1 << n); subsetMask++ {
		var subsetIdx []int
		for i := 0; i < n; i++ {
			if subsetMask&(1<<i) != 0 {
				subsetIdx = append(subsetIdx, refDims[i])
			}
		}

		// comboMask enumerates low(0)/high(1) per dimension in the subset.
		for comboMask := 0; comboMask < (1 << len(subsetIdx)); comboMask++ {
			valid := true
			chosenLimit := make([]float64, len(subsetIdx))
			numberref := 0
			for j, d := range subsetIdx {
				lim := limits[d]
				useHigh := comboMask&(1<<j) != 0
				var limVal *float64
				if useHigh {
					limVal = lim.upper
				} else {
					limVal = lim.lower
				}
				if limVal == nil {
					// This dimension doesn't have the requested side
					// configured: per Design Note §9's open question,
					// fall through to no reflection for this combo
					// rather than emitting a spurious central hill.
					valid = false
					break
				}
				chosenLimit[j] = *limVal
				numberref++
			}
			if !valid || numberref == 0 {
				continue
			}

			allWithin := true
			for j, d := range subsetIdx {
				if !withinRange(x[d], chosenLimit[j], reflectionRange, sigmas[d]) {
					allWithin = false
					break
				}
			}
			if !allWithin {
				continue
			}

			mirrored := append([]colvar.Value(nil), center...)
			for j, d := range subsetIdx {
				mirrored = mirrorOne(mirrored, d, chosenLimit[j])
			}
			out = append(out, mirrored)
		}
	}
	return out
}

func withinRange(x colvar.Value, limit, reflectionRange, sigma float64) bool {
	d := scalarOf(x) - limit
	if d < 0 {
		d = -d
	}
	return d < reflectionRange*sigma
}

func mirrorAt(center []colvar.Value, dim int, limit float64) []colvar.Value {
	out := append([]colvar.Value(nil), center...)
	return mirrorOne(out, dim, limit)
}

// mirrorOne reflects center[dim] about limit: c' = 2*limit - c.
func mirrorOne(center []colvar.Value, dim int, limit float64) []colvar.Value {
	v := center[dim]
	switch v.Kind {
	case colvar.KindScalar:
		center[dim] = colvar.NewScalar(2*limit - v.Scalar)
	case colvar.KindVector1D:
		c := append([]float64(nil), v.Vector1...)
		if len(c) > 0 {
			c[0] = 2*limit - c[0]
		}
		center[dim] = colvar.NewVector1D(c)
	default:
		c := v
		c.Vec3[0] = 2*limit - c.Vec3[0]
		center[dim] = c
	}
	return center
}

// checkReflectionBuffer verifies the boundary-vs-reflection-limit buffer
// invariant from spec.md §4.3: bound <= limit - range*sigma for lower
// limits, symmetrically for upper limits.
func checkReflectionBuffer(limits []reflectionLimit, reflectionRange float64, sigmas []float64, lower, upper []float64, hasLower, hasUpper []bool) error {
	for d, lim := range limits {
		if lim.lower != nil && hasLower[d] {
			if lower[d] > *lim.lower-reflectionRange*sigmas[d] {
				return fmt.Errorf("metad: dimension %d: grid lower boundary %g leaves insufficient buffer below reflection limit %g", d, lower[d], *lim.lower)
			}
		}
		if lim.upper != nil && hasUpper[d] {
			if upper[d] < *lim.upper+reflectionRange*sigmas[d] {
				return fmt.Errorf("metad: dimension %d: grid upper boundary %g leaves insufficient buffer above reflection limit %g", d, upper[d], *lim.upper)
			}
		}
	}
	return nil
}
