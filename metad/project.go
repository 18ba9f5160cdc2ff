package metad

import "github.com/spatialmodel/colvars/colvar"

// bulkOpsProgressInterval bounds the number of bin-hill operations between
// progress reports to roughly 10^6 (spec.md §4.6).
const bulkOpsProgressInterval = 1_000_000

// ProgressFunc is called periodically during projectHills with the number
// of bin-hill operations completed so far.
type ProgressFunc func(opsDone int64)

// projectHills implements spec.md §4.6: for every grid bin, in row-major
// order, accumulate the analytic sum of every hill in [first,last) into
// energyGrid, and the corresponding force contributions (the same
// quantity calcHillsForce sums) into gradientGrid.
func projectHills(vars []colvar.Variable, hills []*Hill, energyGrid *ScalarGrid, gradientGrid *GradientGrid, progress ProgressFunc) error {
	if gradientGrid == nil {
		return &biasError{status: StatusBugError, err: errProjectNoGradientGrid}
	}

	ix := energyGrid.FirstIndex()
	var opsDone int64
	nHills := int64(len(hills))
	reportEvery := bulkOpsProgressInterval / maxInt64(nHills, 1)
	if reportEvery < 1 {
		reportEvery = 1
	}
	var binsSinceReport int64

	for energyGrid.IndexOK(ix) {
		x := valuesAt(vars, energyGrid.BinCenter(ix))

		energy := 0.
		forces := make([][]float64, len(vars))
		for i, v := range x {
			forces[i] = make([]float64, v.NumComponents())
		}

		for _, h := range hills {
			v := hillValue(vars, x, h)
			if v == 0 {
				continue
			}
			coeff := h.Weight * h.ScaleFactor * v
			energy += coeff
			for i, cv := range vars {
				lgrad := cv.Dist2LGrad(x[i], h.Centers[i])
				term := lgrad.Scale(coeff * 0.5 / (h.Sigmas[i] * h.Sigmas[i]))
				c := term.Components()
				for j := range c {
					forces[i][j] += c[j]
				}
			}
		}

		energyGrid.AccValue(ix, energy)
		flat := make([]float64, 0, gradientGrid.g.mult)
		for _, f := range forces {
			flat = append(flat, f...)
		}
		gradientGrid.AccForce(ix, flat)

		energyGrid.Incr(ix)
		binsSinceReport++
		opsDone += nHills
		if progress != nil && binsSinceReport >= reportEvery {
			progress(opsDone)
			binsSinceReport = 0
		}
	}
	if progress != nil && binsSinceReport > 0 {
		progress(opsDone)
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// valuesAt builds a per-CV Value slice from a flat bin-center coordinate
// vector. Grids bin on each CV's scalar progress coordinate (grid.scalarOf)
// regardless of the CV's full Value dimensionality, so a reconstructed
// on-grid Value carries that coordinate in its first component and zeros
// elsewhere — sufficient for the analytic evaluation performed during
// projection, which only ever reads through scalarOf or a CV's own Dist2
// implementation evaluated against another on-grid point.
func valuesAt(vars []colvar.Variable, coords []float64) []colvar.Value {
	out := make([]colvar.Value, len(vars))
	for i, v := range vars {
		c := make([]float64, v.Kind().Size())
		c[0] = coords[i]
		out[i] = colvar.FromComponents(v.Kind(), c)
	}
	return out
}

var errProjectNoGradientGrid = projectErr("project_hills called without a gradient grid")

type projectErr string

func (e projectErr) Error() string { return string(e) }
