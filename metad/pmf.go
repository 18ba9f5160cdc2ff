package metad

import (
	"bufio"
	"fmt"
	"io"
)

// WritePMF dumps the current free-energy surface in the multicolumn text
// format named in spec.md §6: CV values, then the free-energy value
// shifted so its maximum is zero, negated, and (in well-tempered mode)
// scaled by (biasTemperature+T)/biasTemperature.
func (b *Bias) WritePMF(w io.Writer) error {
	if !b.useGrids {
		return b.wrapErr(StatusBugError, fmt.Errorf("metad.WritePMF: bias %q has no grid", b.Name))
	}

	scale := 1.0
	if b.cfg.WellTempered {
		t := b.MD.Temperature()
		scale = (b.cfg.BiasTemperature + t) / b.cfg.BiasTemperature
	}
	max := b.energyGrid.MaximumValue()

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#")
	for i := 0; i < b.energyGrid.NDim(); i++ {
		fmt.Fprintf(bw, " cv%d", i)
	}
	fmt.Fprintf(bw, " pmf\n")

	ix := b.energyGrid.FirstIndex()
	for b.energyGrid.IndexOK(ix) {
		for i := range ix {
			fmt.Fprintf(bw, "%g ", b.energyGrid.BinToValue(ix, i))
		}
		raw := b.energyGrid.Value(ix)
		pmf := -(raw - max) * scale
		fmt.Fprintf(bw, "%g\n", pmf)
		b.energyGrid.Incr(ix)
	}
	if err := bw.Flush(); err != nil {
		return b.wrapErr(StatusFileError, err)
	}
	return nil
}
