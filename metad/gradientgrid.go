package metad

import (
	"github.com/spatialmodel/colvars/colvar"
)

// GradientGrid stores, per bin, the accumulated per-CV hill force
// components as projectHills computes them, i.e. the negative of the
// hills-energy gradient (spec.md §2, §4.1). A CV whose Value variant carries more than one
// component (a 3-vector, a quaternion, ...) contributes that many reals;
// offsets gives each CV's starting position within a bin's component
// block.
type GradientGrid struct {
	g       *grid
	offsets []int
}

// NewGradientGrid allocates an empty gradient grid over vars, sizing each
// bin's storage from the sum of each CV's Value.NumComponents().
func NewGradientGrid(vars []colvar.Variable, sampleValues []colvar.Value) (*GradientGrid, error) {
	offsets := make([]int, len(vars))
	total := 0
	for i, v := range sampleValues {
		offsets[i] = total
		total += v.NumComponents()
		_ = vars
	}
	g, err := newGrid(vars, total, true)
	if err != nil {
		return nil, err
	}
	return &GradientGrid{g: g, offsets: offsets}, nil
}

func (g *GradientGrid) BinOf(values []colvar.Value) []int  { return g.g.binOf(values) }
func (g *GradientGrid) IndexOK(ix []int) bool              { return g.g.indexOK(ix) }
func (g *GradientGrid) BinToValue(ix []int, i int) float64 { return g.g.binToValue(ix, i) }
func (g *GradientGrid) BinCenter(ix []int) []float64       { return g.g.binCenter(ix) }
func (g *GradientGrid) Incr(ix []int)                      { g.g.incr(ix) }
func (g *GradientGrid) FirstIndex() []int                  { return g.g.firstIndex() }
func (g *GradientGrid) NDim() int                          { return g.g.ndim() }

func (g *GradientGrid) BinDistanceFromBoundaries(centers []colvar.Value, signed bool) float64 {
	return g.g.binDistanceFromBoundaries(centers, signed)
}

// Force returns a copy of the full component block stored at ix. The block
// already holds forces (the negated energy gradient), so Bias.CalcForces
// uses it without a sign change.
func (g *GradientGrid) Force(ix []int) []float64 {
	base := g.g.flatIndex(ix)
	out := make([]float64, g.g.mult)
	copy(out, g.g.data[base:base+g.g.mult])
	return out
}

// AccForce adds delta (one real per force component, in CV order) to
// the block stored at ix.
func (g *GradientGrid) AccForce(ix []int, delta []float64) {
	base := g.g.flatIndex(ix)
	for i, d := range delta {
		g.g.data[base+i] += d
	}
}

// ComponentRange returns the [start, end) slice bounds within a bin's
// component block belonging to CV i.
func (g *GradientGrid) ComponentRange(i int) (start, end int) {
	start = g.offsets[i]
	if i+1 < len(g.offsets) {
		end = g.offsets[i+1]
	} else {
		end = g.g.mult
	}
	return
}

// MapGrid copies the overlapping region of src into g (spec.md §4.1).
func (g *GradientGrid) MapGrid(src *GradientGrid) { g.g.mapGrid(src.g) }

// Clone returns an independently-mutable copy.
func (g *GradientGrid) Clone() *GradientGrid {
	return &GradientGrid{g: g.g.clone(), offsets: append([]int(nil), g.offsets...)}
}
