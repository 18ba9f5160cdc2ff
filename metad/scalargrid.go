package metad

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/spatialmodel/colvars/colvar"
)

// ScalarGrid stores one accumulated scalar (a hills energy) per bin
// (spec.md §2, §4.1).
type ScalarGrid struct {
	g *grid
}

// NewScalarGrid allocates an empty scalar grid over vars.
func NewScalarGrid(vars []colvar.Variable) (*ScalarGrid, error) {
	g, err := newGrid(vars, 1, true)
	if err != nil {
		return nil, err
	}
	return &ScalarGrid{g: g}, nil
}

func (s *ScalarGrid) BinOf(values []colvar.Value) []int { return s.g.binOf(values) }
func (s *ScalarGrid) IndexOK(ix []int) bool             { return s.g.indexOK(ix) }
func (s *ScalarGrid) BinToValue(ix []int, i int) float64 { return s.g.binToValue(ix, i) }
func (s *ScalarGrid) BinCenter(ix []int) []float64      { return s.g.binCenter(ix) }
func (s *ScalarGrid) Incr(ix []int)                     { s.g.incr(ix) }
func (s *ScalarGrid) FirstIndex() []int                 { return s.g.firstIndex() }
func (s *ScalarGrid) NDim() int                          { return s.g.ndim() }
func (s *ScalarGrid) Shape() []int                       { return append([]int(nil), s.g.nx...) }

func (s *ScalarGrid) BinDistanceFromBoundaries(centers []colvar.Value, signed bool) float64 {
	return s.g.binDistanceFromBoundaries(centers, signed)
}

// Value returns the scalar stored at ix.
func (s *ScalarGrid) Value(ix []int) float64 { return s.g.data[s.g.flatIndex(ix)] }

// AccValue adds delta to the scalar stored at ix.
func (s *ScalarGrid) AccValue(ix []int, delta float64) { s.g.data[s.g.flatIndex(ix)] += delta }

// MapGrid copies the overlapping region of src into s (spec.md §4.1).
func (s *ScalarGrid) MapGrid(src *ScalarGrid) { s.g.mapGrid(src.g) }

// Clone returns an independently-mutable copy.
func (s *ScalarGrid) Clone() *ScalarGrid { return &ScalarGrid{g: s.g.clone()} }

// MaximumValue returns the largest value stored in the grid.
func (s *ScalarGrid) MaximumValue() float64 {
	max := math.Inf(-1)
	for _, v := range s.g.data {
		if v > max {
			max = v
		}
	}
	return max
}

// MinimumValue returns the smallest value stored in the grid.
func (s *ScalarGrid) MinimumValue() float64 {
	min := math.Inf(1)
	for _, v := range s.g.data {
		if v < min {
			min = v
		}
	}
	return min
}

// MinimumPosValue returns the smallest strictly-positive value stored in
// the grid, or +Inf if none exists.
func (s *ScalarGrid) MinimumPosValue() float64 {
	min := math.Inf(1)
	for _, v := range s.g.data {
		if v > 0 && v < min {
			min = v
		}
	}
	return min
}

func (s *ScalarGrid) binVolume() float64 {
	vol := 1.
	for _, w := range s.g.widths {
		vol *= w
	}
	return vol
}

// Integral returns (∏widths)·Σdata (spec.md §4.1).
func (s *ScalarGrid) Integral() float64 {
	sum := 0.
	for _, v := range s.g.data {
		sum += v
	}
	return s.binVolume() * sum
}

// Entropy returns (∏widths)·Σ -data·ln(data) over strictly-positive
// entries (spec.md §4.1).
func (s *ScalarGrid) Entropy() float64 {
	sum := 0.
	for _, v := range s.g.data {
		if v > 0 {
			sum += -v * math.Log(v)
		}
	}
	return s.binVolume() * sum
}

// RemoveSmallValues replaces every sub-threshold entry with thr.
func (s *ScalarGrid) RemoveSmallValues(thr float64) {
	for i, v := range s.g.data {
		if v < thr {
			s.g.data[i] = thr
		}
	}
}

// MultiplyConstant scales every bin by c.
func (s *ScalarGrid) MultiplyConstant(c float64) {
	for i := range s.g.data {
		s.g.data[i] *= c
	}
}

// AddConstant adds c to every bin.
func (s *ScalarGrid) AddConstant(c float64) {
	for i := range s.g.data {
		s.g.data[i] += c
	}
}

// AddGrid adds other into s in place; other must share s's shape.
func (s *ScalarGrid) AddGrid(other *ScalarGrid) error {
	if len(s.g.data) != len(other.g.data) {
		return fmt.Errorf("metad: AddGrid: shape mismatch (%d vs %d bins)", len(s.g.data), len(other.g.data))
	}
	for i, v := range other.g.data {
		s.g.data[i] += v
	}
	return nil
}

// SimplexProj projects the grid's non-zero entries onto the probability
// simplex using the Wang-Carreira-Perpiñán 2003 algorithm (spec.md §4.1),
// used for target-distribution conditioning in ebMeta mode.
func (s *ScalarGrid) SimplexProj() {
	type entry struct {
		idx int
		val float64
	}
	var entries []entry
	for i, v := range s.g.data {
		if v != 0 {
			entries = append(entries, entry{i, v})
		}
	}
	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].val > entries[j].val })

	cumsum := 0.
	lambda := 0.
	for i, e := range entries {
		cumsum += e.val
		r := i + 1
		threshold := e.val + (1-cumsum)/float64(r)
		if threshold > 0 {
			lambda = (1 - cumsum) / float64(r)
		} else {
			break
		}
	}

	for i, v := range s.g.data {
		shifted := v + lambda
		if shifted < 0 {
			shifted = 0
		}
		s.g.data[i] = shifted
	}
}

// WriteText dumps the grid as the multicolumn text format used for PMF
// output (spec.md §4.1): one row per bin, all CV values then the scalar.
func (s *ScalarGrid) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#")
	for i := 0; i < s.NDim(); i++ {
		fmt.Fprintf(bw, " cv%d", i)
	}
	fmt.Fprintf(bw, " value\n")

	ix := s.FirstIndex()
	for s.IndexOK(ix) {
		for i := range ix {
			fmt.Fprintf(bw, "%g ", s.BinToValue(ix, i))
		}
		fmt.Fprintf(bw, "%g\n", s.Value(ix))
		s.Incr(ix)
	}
	return bw.Flush()
}
