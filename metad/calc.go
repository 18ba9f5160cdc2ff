package metad

import "github.com/spatialmodel/colvars/colvar"

// calcHills accumulates the analytic energy contribution of every hill
// visited by each, at position x (spec.md §4.2).
func calcHills(vars []colvar.Variable, x []colvar.Value, each func(func(*Hill))) float64 {
	energy := 0.
	each(func(h *Hill) {
		v := hillValue(vars, x, h)
		if v == 0 {
			return
		}
		energy += h.Weight * h.ScaleFactor * v
	})
	return energy
}

// calcHillsForce accumulates, per CV i, the analytic force contribution of
// every hill visited by each, at position x (spec.md §4.2). The returned
// slice has one colvar.Value per CV, each in that CV's own Kind and
// dimensionality (matching x[i]'s component count).
func calcHillsForce(vars []colvar.Variable, x []colvar.Value, each func(func(*Hill))) []colvar.Value {
	accum := make([][]float64, len(vars))
	for i, v := range x {
		accum[i] = make([]float64, v.NumComponents())
	}

	each(func(h *Hill) {
		v := hillValue(vars, x, h)
		if v == 0 {
			return
		}
		coeff := h.Weight * h.ScaleFactor * v
		for i, cv := range vars {
			lgrad := cv.Dist2LGrad(x[i], h.Centers[i])
			term := lgrad.Scale(coeff * 0.5 / (h.Sigmas[i] * h.Sigmas[i]))
			c := term.Components()
			for j := range c {
				accum[i][j] += c[j]
			}
		}
	})

	out := make([]colvar.Value, len(vars))
	for i, v := range vars {
		out[i] = colvar.FromComponents(v.Kind(), accum[i])
	}
	return out
}
