package metad

import (
	"fmt"
	"math"

	"github.com/spatialmodel/colvars/colvar"
)

// grid is the regular N-D array shared by ScalarGrid and GradientGrid
// (spec.md §4.1). It is not exported directly: the two specializations
// below are the public API, mirroring the SparseArray/DenseArray
// duplication pattern in the teacher's own grid-like package
// (vendor/bitbucket.org/ctessum/sparse) rather than a generic Grid[T].
type grid struct {
	vars     []colvar.Variable
	nx       []int
	widths   []float64
	lower    []float64
	upper    []float64
	periodic []bool
	strides  []int // row-major strides, strides[len-1] == mult
	mult     int   // scalars stored per bin
	data     []float64
}

// margin adds one extra bin on each end of a non-periodic dimension so that
// hills centered exactly on the nominal boundary still have a bin to land
// in, per spec.md §4.1 ("with an extra bin on each end for non-periodic CVs
// when a 'margin' flag is set").
const defaultMargin = 1

func newGrid(vars []colvar.Variable, mult int, withMargin bool) (*grid, error) {
	g := &grid{vars: vars, mult: mult}
	g.nx = make([]int, len(vars))
	g.widths = make([]float64, len(vars))
	g.lower = make([]float64, len(vars))
	g.upper = make([]float64, len(vars))
	g.periodic = make([]bool, len(vars))

	for i, v := range vars {
		lb, okLB := v.LowerBoundary()
		ub, okUB := v.UpperBoundary()
		if !okLB || !okUB {
			return nil, fmt.Errorf("metad: grid: CV %q has no lower/upper boundary configured", v.Name())
		}
		width := v.Width()
		if width <= 0 {
			return nil, fmt.Errorf("metad: grid: CV %q has non-positive width %g", v.Name(), width)
		}
		nx := int(math.Round((ub - lb) / width))
		if nx <= 0 {
			return nil, fmt.Errorf("metad: grid: CV %q has non-positive bin count", v.Name())
		}
		margin := 0
		if withMargin && !v.IsPeriodic() {
			margin = defaultMargin
		}
		g.nx[i] = nx + 2*margin
		g.lower[i] = lb - float64(margin)*width
		g.upper[i] = ub + float64(margin)*width
		g.widths[i] = width
		g.periodic[i] = v.IsPeriodic()
	}

	g.computeStrides()
	g.data = make([]float64, g.arrsize())
	return g, nil
}

func (g *grid) computeStrides() {
	g.strides = make([]int, len(g.nx))
	stride := g.mult
	for i := len(g.nx) - 1; i >= 0; i-- {
		g.strides[i] = stride
		stride *= g.nx[i]
	}
}

func (g *grid) arrsize() int {
	size := g.mult
	for _, n := range g.nx {
		size *= n
	}
	return size
}

func (g *grid) ndim() int { return len(g.nx) }

// binOf discretizes value into per-dimension bin indices (spec.md §4.1).
// Periodic dimensions wrap via Mod; non-periodic dimensions that fall
// outside the grid return a sentinel of -1 for that dimension.
func (g *grid) binOf(values []colvar.Value) []int {
	ix := make([]int, g.ndim())
	for i, v := range values {
		x := scalarOf(v)
		rel := (x - g.lower[i]) / g.widths[i]
		bin := int(math.Floor(rel))
		if g.periodic[i] {
			bin = ((bin % g.nx[i]) + g.nx[i]) % g.nx[i]
		} else if bin < 0 || bin >= g.nx[i] {
			ix[i] = -1
			continue
		}
		ix[i] = bin
	}
	return ix
}

// scalarOf extracts the single scalar coordinate a grid bins on. Grids are
// always indexed on the CV's own scalar progress along its axis (its
// "position", not its full possibly-multi-component Value); for scalar CVs
// that's Value.Scalar, and for the other variants it is the caller's
// responsibility to have already projected onto a scalar progress
// coordinate before handing values to the grid (colvars itself only grids
// over scalar-valued or effectively-1-D CVs in practice).
func scalarOf(v colvar.Value) float64 {
	switch v.Kind {
	case colvar.KindScalar:
		return v.Scalar
	case colvar.KindVector1D:
		if len(v.Vector1) > 0 {
			return v.Vector1[0]
		}
		return 0
	default:
		return v.Vec3[0]
	}
}

// indexOK reports whether every dimension of ix lies within bounds.
func (g *grid) indexOK(ix []int) bool {
	for i, x := range ix {
		if x < 0 || x >= g.nx[i] {
			return false
		}
	}
	return true
}

// binToValue returns the center-of-bin coordinate for dimension i
// (spec.md §4.1's bin-center convention).
func (g *grid) binToValue(ix []int, i int) float64 {
	return g.lower[i] + (float64(ix[i])+0.5)*g.widths[i]
}

// binCenter returns the full bin-center coordinate vector.
func (g *grid) binCenter(ix []int) []float64 {
	out := make([]float64, g.ndim())
	for i := range ix {
		out[i] = g.binToValue(ix, i)
	}
	return out
}

func (g *grid) flatIndex(ix []int) int {
	idx := 0
	for i, x := range ix {
		idx += x * g.strides[i]
	}
	return idx
}

// incr advances ix to its row-major successor, wrapping dimensions. It
// signals end-of-grid by producing an index for which indexOK is false
// (spec.md §4.1).
func (g *grid) incr(ix []int) {
	for i := len(ix) - 1; i >= 0; i-- {
		ix[i]++
		if ix[i] < g.nx[i] {
			return
		}
		if i == 0 {
			// Overflowed the outermost dimension: signal end by leaving
			// ix[0] out of range.
			return
		}
		ix[i] = 0
	}
}

// firstIndex returns the all-zeros starting index for a row-major scan.
func (g *grid) firstIndex() []int { return make([]int, g.ndim()) }

// binDistanceFromBoundaries returns the minimum, over all dimensions, of
// the number of bins between centers and the nearest grid edge. When
// signed is true, the result is negative if centers lies outside the grid
// along some dimension (spec.md §4.1).
func (g *grid) binDistanceFromBoundaries(centers []colvar.Value, signed bool) float64 {
	min := math.Inf(1)
	for i, v := range centers {
		if g.periodic[i] {
			continue
		}
		x := scalarOf(v)
		rel := (x - g.lower[i]) / g.widths[i]
		distLow := rel
		distHigh := float64(g.nx[i]) - rel
		d := distLow
		if distHigh < d {
			d = distHigh
		}
		if !signed && d < 0 {
			d = -d
		}
		if d < min {
			min = d
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// mapGrid copies the overlapping region of src into g, used when grid
// boundaries grow (spec.md §4.1, §4.5 step 2).
func (g *grid) mapGrid(src *grid) {
	if src == nil {
		return
	}
	ix := src.firstIndex()
	for src.indexOK(ix) {
		value := make([]float64, g.mult)
		srcBase := src.flatIndex(ix)
		copy(value, src.data[srcBase:srcBase+src.mult])

		dstIx := make([]int, len(ix))
		ok := true
		for i := range ix {
			// Re-locate this source bin center within the destination
			// grid's (possibly shifted/expanded) coordinate system.
			center := src.binToValue(ix, i)
			rel := (center - g.lower[i]) / g.widths[i]
			dx := int(math.Floor(rel))
			if dx < 0 || dx >= g.nx[i] {
				ok = false
				break
			}
			dstIx[i] = dx
		}
		if ok {
			dstBase := g.flatIndex(dstIx)
			copy(g.data[dstBase:dstBase+g.mult], value)
		}
		src.incr(ix)
	}
}

// clone returns a deep, independently-mutable copy of g.
func (g *grid) clone() *grid {
	out := &grid{
		vars:     g.vars,
		nx:       append([]int(nil), g.nx...),
		widths:   append([]float64(nil), g.widths...),
		lower:    append([]float64(nil), g.lower...),
		upper:    append([]float64(nil), g.upper...),
		periodic: append([]bool(nil), g.periodic...),
		strides:  append([]int(nil), g.strides...),
		mult:     g.mult,
		data:     append([]float64(nil), g.data...),
	}
	return out
}
