package metad

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spatialmodel/colvars/colvar"
)

// stateVersion is bumped whenever the on-disk text format changes in a way
// that affects compatibility decisions at restart (spec.md §4.8). The
// historical cutoff below predates this engine; it is retained only to
// reproduce the keepHills-default compatibility rule.
const stateVersion = 20210604

// hillState is the gob-encodable projection of a Hill used by the binary
// mirror (spec.md §4.8, "Binary mirror").
type hillState struct {
	Step        int64
	Weight      float64
	Kinds       []colvar.Kind
	Centers     [][]float64
	Sigmas      []float64
	ReplicaID   string
	ScaleFactor float64
}

// gridShape captures the bin layout a grid's flat data array was written
// under, so a restart that changes CV boundaries (spec.md §4.5 step 2) can
// still relocate old bins correctly via grid.mapGrid.
type gridShape struct {
	Nx       []int
	Lower    []float64
	Widths   []float64
	Periodic []bool
	Mult     int
	Data     []float64
}

// binaryState is the gob envelope for a full Bias checkpoint: version tag,
// hill records, and (when present) the two grids' flat data plus the
// shape that data was written under.
type binaryState struct {
	Version   int
	KeepHills bool
	Hills     []hillState
	HasGrids  bool
	Energy    gridShape
	Grad      gridShape
}

func init() {
	gob.Register(binaryState{})
}

// WriteStateBinary gob-encodes b's full restart state (spec.md §4.8,
// "Binary mirror"). The source's length-prefixed memcpy framing is
// reproduced in spirit by gob's own self-describing stream, not
// byte-for-byte.
func (b *Bias) WriteStateBinary(w io.Writer) error {
	st := binaryState{Version: stateVersion, KeepHills: b.cfg.KeepHills}
	b.hills.Each(func(h *Hill) {
		st.Hills = append(st.Hills, toHillState(h))
	})
	if b.useGrids {
		st.HasGrids = true
		st.Energy = shapeOf(b.energyGrid.g)
		st.Grad = shapeOf(b.gradientGrid.g)
	}
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		return b.wrapErr(StatusFileError, fmt.Errorf("metad.WriteStateBinary: %w", err))
	}
	return nil
}

// ReadStateBinary restores b's hill list and, if grids are in use and
// rebinGrids is false, its grid contents from a stream written by
// WriteStateBinary (spec.md §4.8, "Restart precedence").
func (b *Bias) ReadStateBinary(r io.Reader) error {
	var st binaryState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return b.wrapErr(StatusFileError, fmt.Errorf("metad.ReadStateBinary: %w", err))
	}
	return b.applyBinaryState(st)
}

// decodeBinaryState is the diskcache.DecodeFunc used to memoize peer state
// decodes across replica-sync cycles (internal/diskcache).
func decodeBinaryState(raw []byte) (interface{}, error) {
	var st binaryState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&st); err != nil {
		return nil, err
	}
	return st, nil
}

// applyBinaryState replaces b's hill list and, if appropriate, grid
// contents with a decoded checkpoint (spec.md §4.8, "Restart precedence").
func (b *Bias) applyBinaryState(st binaryState) error {
	if st.Version < stateVersion && b.cfg.KeepHills {
		b.logWarn("restart state version %d predates explicit keepHills; treating as keepHills=true", st.Version)
	}

	b.hills = newHillList()
	b.offGrid = nil
	for _, hs := range st.Hills {
		h := fromHillState(hs)
		handle := b.hills.Add(h)
		if b.useGrids && b.nearBoundary(h.Centers) {
			b.offGrid = append(b.offGrid, handle.node)
		}
	}
	b.newHillsBegin = b.hills.TailNode()

	if !b.useGrids || !st.HasGrids {
		return nil
	}

	if b.cfg.RebinGrids && b.cfg.KeepHills {
		var hills []*Hill
		b.hills.Each(func(h *Hill) { hills = append(hills, h) })
		return projectHills(b.Vars, hills, b.energyGrid, b.gradientGrid, nil)
	}

	b.energyGrid.MapGrid(&ScalarGrid{g: gridFromShape(st.Energy, b.Vars)})
	b.gradientGrid.MapGrid(&GradientGrid{g: gridFromShape(st.Grad, b.Vars), offsets: b.gradientGrid.offsets})
	return nil
}

// shapeOf snapshots g's bin layout and data for the binary mirror.
func shapeOf(g *grid) gridShape {
	return gridShape{
		Nx:       append([]int(nil), g.nx...),
		Lower:    append([]float64(nil), g.lower...),
		Widths:   append([]float64(nil), g.widths...),
		Periodic: append([]bool(nil), g.periodic...),
		Mult:     g.mult,
		Data:     append([]float64(nil), g.data...),
	}
}

// gridFromShape reconstructs a *grid from a previously-saved shape, so its
// (possibly stale) bin layout can be used as the source side of mapGrid
// when boundaries changed across the restart.
func gridFromShape(s gridShape, vars []colvar.Variable) *grid {
	g := &grid{
		vars:     vars,
		nx:       s.Nx,
		lower:    s.Lower,
		widths:   s.Widths,
		periodic: s.Periodic,
		mult:     s.Mult,
		data:     s.Data,
	}
	g.computeStrides()
	return g
}

func toHillState(h *Hill) hillState {
	kinds := make([]colvar.Kind, len(h.Centers))
	centers := make([][]float64, len(h.Centers))
	for i, c := range h.Centers {
		kinds[i] = c.Kind
		centers[i] = c.Components()
	}
	return hillState{
		Step:        h.Step,
		Weight:      h.Weight,
		Kinds:       kinds,
		Centers:     centers,
		Sigmas:      append([]float64(nil), h.Sigmas...),
		ReplicaID:   h.ReplicaID,
		ScaleFactor: h.ScaleFactor,
	}
}

func fromHillState(hs hillState) Hill {
	centers := make([]colvar.Value, len(hs.Centers))
	for i, c := range hs.Centers {
		centers[i] = colvar.FromComponents(hs.Kinds[i], c)
	}
	return Hill{
		Step:        hs.Step,
		Weight:      hs.Weight,
		Centers:     centers,
		Sigmas:      append([]float64(nil), hs.Sigmas...),
		ReplicaID:   hs.ReplicaID,
		ScaleFactor: hs.ScaleFactor,
	}
}

// WriteStateText writes the human-readable restart format (spec.md §4.8): a
// header line, the hills_energy/hills_energy_gradients grid dumps (when
// grids are in use), then one hill record per line in the wire format
// spec.md §6 names.
func (b *Bias) WriteStateText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "metadynamics %q version %d keepHills %t\n", b.Name, stateVersion, b.cfg.KeepHills)
	if b.useGrids {
		writeGridBlock(bw, "hills_energy", shapeOf(b.energyGrid.g))
		writeGridBlock(bw, "hills_energy_gradients", shapeOf(b.gradientGrid.g))
	}
	b.hills.Each(func(h *Hill) {
		bw.WriteString(formatHillRecord(h))
	})
	if err := bw.Flush(); err != nil {
		return b.wrapErr(StatusFileError, err)
	}
	return nil
}

// ReadStateText parses the format written by WriteStateText, applying the
// same rebinGrids-vs-map_grid restart precedence as applyBinaryState
// (spec.md §4.8, "Restart precedence").
func (b *Bias) ReadStateText(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<24)
	var version int
	sawKeepHills := false
	var energy, grad gridShape
	var hasGrids bool

	b.hills = newHillList()
	b.offGrid = nil

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "metadynamics":
			for i, f := range fields {
				if f == "version" && i+1 < len(fields) {
					version, _ = strconv.Atoi(fields[i+1])
				}
				if f == "keepHills" && i+1 < len(fields) {
					sawKeepHills = true
				}
			}
		case "hills_energy":
			shape, err := readGridBlock(sc)
			if err != nil {
				return b.wrapErr(StatusFileError, fmt.Errorf("metad.ReadStateText: hills_energy: %w", err))
			}
			energy = shape
			hasGrids = true
		case "hills_energy_gradients":
			shape, err := readGridBlock(sc)
			if err != nil {
				return b.wrapErr(StatusFileError, fmt.Errorf("metad.ReadStateText: hills_energy_gradients: %w", err))
			}
			grad = shape
		case "hill":
			h, err := parseHillLine(fields)
			if err != nil {
				return b.wrapErr(StatusFileError, fmt.Errorf("metad.ReadStateText: %w", err))
			}
			handle := b.hills.Add(h)
			if b.useGrids && b.nearBoundary(h.Centers) {
				b.offGrid = append(b.offGrid, handle.node)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return b.wrapErr(StatusFileError, err)
	}

	if version < stateVersion && !sawKeepHills && b.cfg.KeepHills {
		b.logWarn("restart state version %d predates explicit keepHills; treating as keepHills=true", version)
	}

	b.newHillsBegin = b.hills.TailNode()

	if !b.useGrids || !hasGrids {
		return nil
	}

	if b.cfg.RebinGrids && b.cfg.KeepHills {
		var hills []*Hill
		b.hills.Each(func(h *Hill) { hills = append(hills, h) })
		return projectHills(b.Vars, hills, b.energyGrid, b.gradientGrid, nil)
	}

	b.energyGrid.MapGrid(&ScalarGrid{g: gridFromShape(energy, b.Vars)})
	b.gradientGrid.MapGrid(&GradientGrid{g: gridFromShape(grad, b.Vars), offsets: b.gradientGrid.offsets})
	return nil
}

// writeGridBlock emits one "<name> { ... }" grid dump: bin layout followed
// by the flat data array, enough to reconstruct the grid exactly via
// gridFromShape (spec.md §4.8).
func writeGridBlock(bw *bufio.Writer, name string, shape gridShape) {
	fmt.Fprintf(bw, "%s {\n", name)
	fmt.Fprintf(bw, "nx %s\n", joinInts(shape.Nx))
	fmt.Fprintf(bw, "lower %s\n", formatWidths(shape.Lower))
	fmt.Fprintf(bw, "widths %s\n", formatWidths(shape.Widths))
	fmt.Fprintf(bw, "periodic %s\n", joinBools(shape.Periodic))
	fmt.Fprintf(bw, "mult %d\n", shape.Mult)
	fmt.Fprintf(bw, "data %s\n", formatWidths(shape.Data))
	fmt.Fprintf(bw, "}\n")
}

// readGridBlock reads the body of a "<name> { ... }" block up to and
// including its closing brace; sc must be positioned right after the
// opening line.
func readGridBlock(sc *bufio.Scanner) (gridShape, error) {
	var shape gridShape
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "}" {
			return shape, nil
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "nx":
			shape.Nx = parseInts(fields[1:])
		case "lower":
			shape.Lower, _ = parseFloatList(fields[1:])
		case "widths":
			shape.Widths, _ = parseFloatList(fields[1:])
		case "periodic":
			shape.Periodic = parseBools(fields[1:])
		case "mult":
			shape.Mult, _ = strconv.Atoi(fields[1])
		case "data":
			shape.Data, _ = parseFloatList(fields[1:])
		}
	}
	return shape, fmt.Errorf("unterminated grid block")
}

// formatHillRecord renders one hill in the wire format spec.md §6 names:
// "hill { step <it> weight <W> centers <v1…vN> widths <2σ1…2σN>
// [replicaID <id>] }". ScaleFactor has no field of its own in the wire
// format, so it is folded into the serialized weight; parseHillLine resets
// ScaleFactor to 1 on read, since calc.go/project.go evaluate amplitude as
// weight*scaleFactor and the read-back weight already carries the product.
func formatHillRecord(h *Hill) string {
	widths := make([]float64, len(h.Sigmas))
	for i, s := range h.Sigmas {
		widths[i] = 2 * s
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hill { step %d weight %g centers %s widths %s",
		h.Step, h.Weight*h.ScaleFactor, formatCenters(h.Centers), formatWidths(widths))
	if h.ReplicaID != "" {
		fmt.Fprintf(&sb, " replicaID %q", h.ReplicaID)
	}
	sb.WriteString(" }\n")
	return sb.String()
}

// parseHillLine parses one "hill { ... }" record written by
// formatHillRecord/WriteStateText. The brace tokens match no case below and
// are skipped as the loop advances. Only scalar-valued CVs round-trip
// through the text format, one float per CV; any CV with a richer Value
// variant (Vector3, Quaternion, Vector1D, ...) should restart from the
// binary mirror instead, since the text format cannot disambiguate
// component boundaries across CVs of mixed arity.
func parseHillLine(fields []string) (Hill, error) {
	h := Hill{ScaleFactor: 1}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "step":
			h.Step, _ = strconv.ParseInt(fields[i+1], 10, 64)
			i++
		case "weight":
			h.Weight, _ = strconv.ParseFloat(fields[i+1], 64)
			i++
		case "centers":
			i++
			vals, consumed := parseFloatList(fields[i:])
			for _, v := range vals {
				h.Centers = append(h.Centers, colvar.NewScalar(v))
			}
			i += consumed - 1
		case "widths":
			i++
			vals, consumed := parseFloatList(fields[i:])
			h.Sigmas = make([]float64, len(vals))
			for j, v := range vals {
				h.Sigmas[j] = v / 2
			}
			i += consumed - 1
		case "replicaID":
			h.ReplicaID = strings.Trim(fields[i+1], `"`)
			i++
		}
	}
	return h, nil
}

func joinInts(xs []int) string {
	var sb strings.Builder
	for i, x := range xs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", x)
	}
	return sb.String()
}

func parseInts(fields []string) []int {
	var out []int
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

func joinBools(xs []bool) string {
	var sb strings.Builder
	for i, x := range xs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatBool(x))
	}
	return sb.String()
}

func parseBools(fields []string) []bool {
	var out []bool
	for _, f := range fields {
		v, err := strconv.ParseBool(f)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

func parseFloatList(fields []string) ([]float64, int) {
	var out []float64
	n := 0
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			break
		}
		out = append(out, v)
		n++
	}
	return out, n
}

func formatCenters(centers []colvar.Value) string {
	var sb strings.Builder
	for i, c := range centers {
		if i > 0 {
			sb.WriteByte(' ')
		}
		for j, v := range c.Components() {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%g", v)
		}
	}
	return sb.String()
}

func formatWidths(widths []float64) string {
	var sb strings.Builder
	for i, w := range widths {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%g", w)
	}
	return sb.String()
}
