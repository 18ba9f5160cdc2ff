// Package report exports a bias's hill-deposition history to a workbook
// and renders a diagnostic plot of its free-energy surface (spec.md §2
// "[ADDED]"), grounded on the teacher's tealeg/xlsx dependency and
// webserver.go's gonum/plot usage.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// HillRecord is one deposited hill, parsed from a ".hills.traj" file
// written by metad.Bias.FlushTrajectory. Weight already carries the
// deposit's scale factor folded in, since the wire format has no separate
// scale field.
type HillRecord struct {
	Step    int64
	Weight  float64
	Centers []float64
	Widths  []float64
	Replica string
}

// ReadTrajectory parses the hills trajectory text format emitted by
// metad.Bias.appendTrajRecord: "hill { step <it> weight <W> centers <v1…vN>
// widths <2σ1…2σN> [replicaID <id>] }" lines, tolerant of the brace tokens
// the same way metad/state.go's parseHillLine is.
func ReadTrajectory(r io.Reader) ([]HillRecord, error) {
	var out []HillRecord
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "hill") {
			continue
		}
		fields := strings.Fields(line)
		rec, err := parseTrajLine(fields)
		if err != nil {
			return nil, fmt.Errorf("report: parsing hills trajectory: %w", err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func parseTrajLine(fields []string) (HillRecord, error) {
	var rec HillRecord
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "step":
			rec.Step, _ = strconv.ParseInt(fields[i+1], 10, 64)
			i++
		case "weight":
			rec.Weight, _ = strconv.ParseFloat(fields[i+1], 64)
			i++
		case "centers":
			i++
			vals, n := parseFloats(fields[i:])
			rec.Centers = vals
			i += n - 1
		case "widths":
			i++
			vals, n := parseFloats(fields[i:])
			rec.Widths = vals
			i += n - 1
		case "replicaID":
			rec.Replica = strings.Trim(fields[i+1], `"`)
			i++
		}
	}
	return rec, nil
}

func parseFloats(fields []string) ([]float64, int) {
	var out []float64
	n := 0
	for _, f := range fields {
		if f == "{" || f == "}" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			break
		}
		out = append(out, v)
		n++
	}
	return out, n
}

// WriteWorkbook exports hills as an .xlsx workbook with one row per
// deposited hill (spec.md §2 report package responsibility).
func WriteWorkbook(w io.Writer, biasName string, hills []HillRecord) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(biasName)
	if err != nil {
		return fmt.Errorf("report: adding sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range []string{"step", "weight", "replica", "centers", "widths"} {
		header.AddCell().SetString(h)
	}

	for _, h := range hills {
		row := sheet.AddRow()
		row.AddCell().SetInt64(h.Step)
		row.AddCell().SetFloat(h.Weight)
		row.AddCell().SetString(h.Replica)
		row.AddCell().SetString(joinFloats(h.Centers))
		row.AddCell().SetString(joinFloats(h.Widths))
	}

	return file.Write(w)
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// PMFPoint is one row of a metad.Bias.WritePMF dump, restricted to the
// single-CV case this plot renders.
type PMFPoint struct {
	CV  float64
	PMF float64
}

// WritePMFPlot renders a one-dimensional potential-of-mean-force curve as
// a PNG, matching the plot construction webserver.go uses for its
// vertical-profile diagnostic image.
func WritePMFPlot(w io.Writer, biasName string, points []PMFPoint) error {
	p, err := plot.New()
	if err != nil {
		return fmt.Errorf("report: creating plot: %w", err)
	}
	p.Title.Text = fmt.Sprintf("%s potential of mean force", biasName)
	p.X.Label.Text = "cv0"
	p.Y.Label.Text = "free energy"

	xy := make(plotter.XYs, len(points))
	for i, pt := range points {
		xy[i].X = pt.CV
		xy[i].Y = pt.PMF
	}
	if err := plotutil.AddLinePoints(p, biasName, xy); err != nil {
		return fmt.Errorf("report: adding pmf line: %w", err)
	}

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("report: rendering pmf plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
