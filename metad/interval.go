package metad

import "github.com/spatialmodel/colvars/colvar"

// intervalLimit holds the configured lower/upper interval (force-clipping)
// boundary for one dimension (spec.md §4.4).
type intervalLimit struct {
	lower, upper *float64
}

// effectiveIntervals resolves the default-to-reflection-limits rule from
// spec.md §4.4: if interval is not explicitly configured but reflection is
// active, interval limits default to the reflection limits.
func effectiveIntervals(configured []intervalLimit, reflectionActive bool, reflection []reflectionLimit) []intervalLimit {
	out := make([]intervalLimit, len(configured))
	for d := range configured {
		out[d] = configured[d]
		if out[d].lower == nil && out[d].upper == nil && reflectionActive && d < len(reflection) {
			out[d].lower = reflection[d].lower
			out[d].upper = reflection[d].upper
		}
	}
	return out
}

// clipForces zeros the force component(s) for every dimension whose
// current value lies outside its configured interval (spec.md §4.4).
func clipForces(limits []intervalLimit, x []colvar.Value, forces []colvar.Value) {
	for d, lim := range limits {
		if lim.lower == nil && lim.upper == nil {
			continue
		}
		v := scalarOf(x[d])
		outside := (lim.lower != nil && v < *lim.lower) || (lim.upper != nil && v > *lim.upper)
		if outside {
			forces[d] = colvar.FromComponents(forces[d].Kind, make([]float64, forces[d].NumComponents()))
		}
	}
}
