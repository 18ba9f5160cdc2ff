package metad

import (
	"fmt"
	"io"
	"math"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/proxy"
)

// Config holds the configuration keys recognized by a Bias (spec.md §6).
type Config struct {
	// HillWeight is W, the weight of each deposited hill. Required, > 0.
	HillWeight float64

	// NewHillFrequency is the number of steps between deposition attempts.
	// Defaults to 1000 if zero.
	NewHillFrequency int64

	// Sigmas gives each CV's Gaussian width directly. If nil, HillWidth
	// is used instead (hillWidth/gaussianSigmas are mutually exclusive,
	// spec.md §6): sigma[i] = Width[i] * HillWidth / 2.
	Sigmas []float64

	// HillWidth is a dimensionless multiple of each CV's bin width used
	// to derive Sigmas when Sigmas is nil.
	HillWidth float64

	UseGrids                bool
	GridsUpdateFrequency    int64 // defaults to NewHillFrequency if zero
	RebinGrids              bool
	KeepHills               bool
	KeepFreeEnergyFiles     bool
	WriteFreeEnergyFile     bool
	WriteHillsTrajectory    bool

	WellTempered    bool
	BiasTemperature float64

	EBMeta           bool
	TargetDist       *ScalarGrid
	TargetDistMinVal float64
	EBMetaEquilSteps int64

	ReflectionType  ReflectionType
	ReflectionRange float64
	ReflectionLower []*float64 // len == len(Vars); nil entry == unconfigured
	ReflectionUpper []*float64

	IntervalLower []*float64
	IntervalUpper []*float64
}

// Bias is the metadynamics orchestrator: owns the hill list, the two
// grids, the deposition schedule, and well-tempered/ebmeta scaling
// (spec.md §2, §4.5).
type Bias struct {
	Name      string
	ReplicaID string

	Vars []colvar.Variable
	MD   proxy.MD
	cfg  Config

	hills          *hillList
	newHillsBegin  *hillNode // last hill already projected; nil before the first projection
	offGrid        []*hillNode

	useGrids     bool
	energyGrid   *ScalarGrid
	gradientGrid *GradientGrid

	sigmas []float64

	reflectionLimits []reflectionLimit
	intervalLimits   []intervalLimit

	step int64

	// Replicas is non-nil in multiple-replicas mode (spec.md §4.7).
	Replicas *ReplicaCoordinator

	trajBuf []byte
}

// NewBias validates cfg and constructs a Bias over vars. Grids are
// allocated immediately if cfg.UseGrids is set (the CLI sets it by
// default; the zero Config leaves it off).
func NewBias(name string, vars []colvar.Variable, md proxy.MD, cfg Config) (*Bias, error) {
	if cfg.HillWeight <= 0 {
		return nil, inputErrf("bias %q: hillWeight must be > 0", name)
	}
	if cfg.Sigmas != nil && cfg.HillWidth > 0 {
		return nil, inputErrf("bias %q: hillWidth and gaussianSigmas are mutually exclusive", name)
	}
	if cfg.NewHillFrequency <= 0 {
		cfg.NewHillFrequency = 1000
	}
	if cfg.GridsUpdateFrequency <= 0 {
		cfg.GridsUpdateFrequency = cfg.NewHillFrequency
	}

	sigmas := cfg.Sigmas
	if sigmas == nil {
		sigmas = make([]float64, len(vars))
		for i, v := range vars {
			sigmas[i] = v.Width() * cfg.HillWidth / 2
		}
	}
	for i, s := range sigmas {
		if s <= 0 {
			return nil, inputErrf("bias %q: CV %q has non-positive sigma", name, vars[i].Name())
		}
	}

	b := &Bias{
		Name:   name,
		Vars:   vars,
		MD:     md,
		cfg:    cfg,
		hills:  newHillList(),
		sigmas: sigmas,
	}

	b.reflectionLimits = make([]reflectionLimit, len(vars))
	for i := range vars {
		var lim reflectionLimit
		if i < len(cfg.ReflectionLower) {
			lim.lower = cfg.ReflectionLower[i]
		}
		if i < len(cfg.ReflectionUpper) {
			lim.upper = cfg.ReflectionUpper[i]
		}
		b.reflectionLimits[i] = lim
	}

	configuredIntervals := make([]intervalLimit, len(vars))
	for i := range vars {
		var lim intervalLimit
		if i < len(cfg.IntervalLower) {
			lim.lower = cfg.IntervalLower[i]
		}
		if i < len(cfg.IntervalUpper) {
			lim.upper = cfg.IntervalUpper[i]
		}
		configuredIntervals[i] = lim
	}
	reflectionActive := cfg.ReflectionType != ReflectionNone
	b.intervalLimits = effectiveIntervals(configuredIntervals, reflectionActive, b.reflectionLimits)

	if reflectionActive && cfg.UseGrids {
		lower := make([]float64, len(vars))
		upper := make([]float64, len(vars))
		hasLower := make([]bool, len(vars))
		hasUpper := make([]bool, len(vars))
		for i, v := range vars {
			lower[i], hasLower[i] = v.LowerBoundary()
			upper[i], hasUpper[i] = v.UpperBoundary()
		}
		if err := checkReflectionBuffer(b.reflectionLimits, cfg.ReflectionRange, sigmas, lower, upper, hasLower, hasUpper); err != nil {
			return nil, &biasError{status: StatusInputError, bias: name, err: err}
		}
	}

	if cfg.UseGrids {
		b.useGrids = true
		eg, err := NewScalarGrid(vars)
		if err != nil {
			return nil, &biasError{status: StatusInputError, bias: name, err: err}
		}
		sample := make([]colvar.Value, len(vars))
		for i, v := range vars {
			sample[i] = colvar.FromComponents(v.Kind(), make([]float64, v.Kind().Size()))
		}
		gg, err := NewGradientGrid(vars, sample)
		if err != nil {
			return nil, &biasError{status: StatusInputError, bias: name, err: err}
		}
		b.energyGrid = eg
		b.gradientGrid = gg
	}

	return b, nil
}

func inputErrf(format string, args ...interface{}) error {
	return &biasError{status: StatusInputError, err: fmt.Errorf(format, args...)}
}

// depositScale computes the step-3 deposition scale factor s: ebMeta
// scaling (with linear equilibration ramp), then well-tempered scaling
// (spec.md §4.5 step 3).
func (b *Bias) depositScale(x []colvar.Value) float64 {
	s := 1.0

	if b.cfg.EBMeta && b.cfg.TargetDist != nil {
		ix := b.cfg.TargetDist.BinOf(x)
		target := b.cfg.TargetDistMinVal
		if b.cfg.TargetDist.IndexOK(ix) {
			v := b.cfg.TargetDist.Value(ix)
			if v > b.cfg.TargetDistMinVal {
				target = v
			}
		}
		ebScale := 1 / target
		if b.cfg.EBMetaEquilSteps > 0 && b.step < b.cfg.EBMetaEquilSteps {
			lambda := float64(b.cfg.EBMetaEquilSteps-b.step) / float64(b.cfg.EBMetaEquilSteps)
			ebScale = lambda + (1-lambda)*ebScale
		}
		s *= ebScale
	}

	if b.cfg.WellTempered {
		kTBias := b.cfg.BiasTemperature * b.MD.BoltzmannConstant()
		here := b.energyHere(x)
		s *= math.Exp(-here / kTBias)
	}
	return s
}

// energyHere returns the current hills energy at x, from the grid if
// available, else analytically (spec.md §4.5 step 3's "E_here").
func (b *Bias) energyHere(x []colvar.Value) float64 {
	e, _ := b.calcEnergySelf(x)
	return e
}

// outsideAnyReflectionLimit reports whether x lies outside any configured
// reflection limit (spec.md §4.5 step 3: deposition is skipped in that
// case).
func (b *Bias) outsideAnyReflectionLimit(x []colvar.Value) bool {
	for d, lim := range b.reflectionLimits {
		v := scalarOf(x[d])
		if lim.lower != nil && v < *lim.lower {
			return true
		}
		if lim.upper != nil && v > *lim.upper {
			return true
		}
	}
	return false
}

// nearBoundary reports the off-grid-hill buffer rule from spec.md §3.1:
// "within 3*floor(hillWidth)+1 bins of any grid boundary".
func (b *Bias) nearBoundary(centers []colvar.Value) bool {
	if !b.useGrids {
		return true
	}
	buf := minBuffer(b.cfg.HillWidth)
	d := b.energyGrid.BinDistanceFromBoundaries(centers, false)
	return d < float64(buf)
}

func minBuffer(hillWidth float64) int {
	return 3*int(math.Floor(hillWidth)) + 1
}

// Step advances the orchestrator through one simulation step's worth of
// the update cycle (spec.md §4.5). x is the current CV position.
func (b *Bias) Step(x []colvar.Value) (Status, error) {
	b.step = b.MD.Step()

	var status Status

	if b.cfg.UseGrids {
		if err := b.maybeExpandGrids(x); err != nil {
			return StatusFileError, err
		}
	}

	if b.step%b.cfg.NewHillFrequency == 0 {
		if b.outsideAnyReflectionLimit(x) {
			b.logWarn("CV position outside reflection limit at step %d, skipping deposition", b.step)
		} else {
			s := b.depositScale(x)
			center := append([]colvar.Value(nil), x...)
			h := Hill{
				Step:        b.step,
				Weight:      b.cfg.HillWeight,
				Centers:     center,
				Sigmas:      append([]float64(nil), b.sigmas...),
				ReplicaID:   b.ReplicaID,
				ScaleFactor: s,
			}
			b.addHill(h)

			if b.cfg.ReflectionType != ReflectionNone {
				mirrors := planReflections(b.cfg.ReflectionType, b.reflectionLimits, b.cfg.ReflectionRange, x, center, b.sigmas)
				for _, mc := range mirrors {
					mh := Hill{
						Step:        b.step,
						Weight:      b.cfg.HillWeight,
						Centers:     mc,
						Sigmas:      append([]float64(nil), b.sigmas...),
						ReplicaID:   b.ReplicaID,
						ScaleFactor: s,
					}
					b.addHill(mh)
				}
			}
		}
	}

	if b.cfg.UseGrids && b.step%b.cfg.GridsUpdateFrequency == 0 {
		if err := b.projectAndMaybeClear(); err != nil {
			return StatusBugError, err
		}
	}

	return status, nil
}

// addHill appends h, tracking the off-grid set incrementally (spec.md
// §4.2, §3.1).
func (b *Bias) addHill(h Hill) {
	handle := b.hills.Add(h)
	if b.useGrids && b.nearBoundary(h.Centers) {
		b.offGrid = append(b.offGrid, handle.node)
	}
	if b.cfg.WriteHillsTrajectory {
		b.appendTrajRecord(&h)
	}
}

// maybeExpandGrids implements spec.md §4.5 step 2: grow any non-hard
// boundary the CV position has approached within minBuffer bins, then
// re-map old grid contents into freshly-allocated, larger grids.
func (b *Bias) maybeExpandGrids(x []colvar.Value) error {
	grown := false
	for i, v := range b.Vars {
		if !v.ExpandBoundaries() || v.IsPeriodic() {
			continue
		}
		lb, _ := v.LowerBoundary()
		ub, _ := v.UpperBoundary()
		width := v.Width()
		buf := minBuffer(b.cfg.HillWidth)
		pos := scalarOf(x[i])

		lowDeficit := (lb + float64(buf)*width) - pos
		highDeficit := pos - (ub - float64(buf)*width)

		if lowDeficit > 0 {
			switch cv := v.(type) {
			case *colvar.Scalar:
				cv.LowerBound = lb - lowDeficit
			case *colvar.Vector1D:
				cv.LowerBound = lb - lowDeficit
			}
			grown = true
		}
		if highDeficit > 0 {
			switch cv := v.(type) {
			case *colvar.Scalar:
				cv.UpperBound = ub + highDeficit
			case *colvar.Vector1D:
				cv.UpperBound = ub + highDeficit
			}
			grown = true
		}
	}
	if !grown {
		return nil
	}

	newEnergy, err := NewScalarGrid(b.Vars)
	if err != nil {
		return err
	}
	sample := make([]colvar.Value, len(b.Vars))
	for i, v := range b.Vars {
		sample[i] = colvar.FromComponents(v.Kind(), make([]float64, v.Kind().Size()))
	}
	newGradient, err := NewGradientGrid(b.Vars, sample)
	if err != nil {
		return err
	}
	newEnergy.MapGrid(b.energyGrid)
	newGradient.MapGrid(b.gradientGrid)
	b.energyGrid = newEnergy
	b.gradientGrid = newGradient
	return nil
}

// projectAndMaybeClear implements spec.md §4.6: project the hills after
// newHillsBegin into the grids, move newHillsBegin to the last of them,
// and, if keepHills is false, erase every hill before it (off-grid hills
// survive the erase).
func (b *Bias) projectAndMaybeClear() error {
	var toProject []*Hill
	b.eachUnprojected(func(h *Hill) {
		toProject = append(toProject, h)
	})
	if len(toProject) == 0 {
		return nil
	}

	if err := projectHills(b.Vars, toProject, b.energyGrid, b.gradientGrid, nil); err != nil {
		return err
	}
	b.newHillsBegin = b.hills.TailNode()

	if !b.cfg.KeepHills {
		b.hills.EraseBefore(b.newHillsBegin)
		// The erase stops before newHillsBegin, so the list keeps that
		// one already-projected hill; eachUnprojected starts after it,
		// so nothing is projected twice. Off-grid hills recorded at
		// deposition time are still summed because offGrid stores
		// *hillNode pointers directly, independent of the now-shortened
		// main list.
	}
	return nil
}

func handleFromNode(n *hillNode) HillHandle {
	if n == nil {
		return HillHandle{}
	}
	return HillHandle{node: n, generation: n.generation}
}

// calcEnergySelf sums this bias's own contribution at x: from the grid if
// in range, else the off-grid analytic sum, plus any hills not yet
// projected (spec.md §4.5 step 6).
func (b *Bias) calcEnergySelf(x []colvar.Value) (float64, error) {
	var energy float64
	if b.useGrids {
		ix := b.energyGrid.BinOf(x)
		if b.energyGrid.IndexOK(ix) {
			energy += b.energyGrid.Value(ix)
		} else {
			energy += calcHills(b.Vars, x, b.eachOffGrid)
		}
	} else {
		energy += calcHills(b.Vars, x, b.hills.Each)
		return energy, nil
	}
	energy += calcHills(b.Vars, x, b.eachUnprojected)
	return energy, nil
}

func (b *Bias) eachOffGrid(f func(*Hill)) {
	for _, n := range b.offGrid {
		f(&n.hill)
	}
}

// eachUnprojected visits the hills after newHillsBegin (every hill while
// it is nil).
func (b *Bias) eachUnprojected(f func(*Hill)) {
	skip := b.newHillsBegin != nil
	b.hills.EachFrom(handleFromNode(b.newHillsBegin), func(h *Hill) {
		if skip {
			skip = false
			return
		}
		f(h)
	})
}

// CalcEnergy implements spec.md §4.5 step 6 across the local bias and
// every peer shadow bias.
func (b *Bias) CalcEnergy(x []colvar.Value) (float64, error) {
	total, err := b.calcEnergySelf(x)
	if err != nil {
		return 0, err
	}
	if b.Replicas != nil {
		for _, r := range b.Replicas.peers {
			if r.shadow == nil {
				continue
			}
			e, err := r.shadow.calcEnergySelf(x)
			if err != nil {
				continue
			}
			total += e
		}
	}
	return total, nil
}

// CalcForces implements spec.md §4.5 step 7: analytic or grid-based force
// summation across the local bias and every peer shadow bias, with
// interval clipping applied to the combined result.
func (b *Bias) CalcForces(x []colvar.Value) ([]colvar.Value, error) {
	forces, err := b.calcForcesSelf(x)
	if err != nil {
		return nil, err
	}
	if b.Replicas != nil {
		for _, r := range b.Replicas.peers {
			if r.shadow == nil {
				continue
			}
			pf, err := r.shadow.calcForcesSelf(x)
			if err != nil {
				continue
			}
			for i := range forces {
				forces[i] = forces[i].Add(pf[i])
			}
		}
	}
	clipForces(b.intervalLimits, x, forces)
	return forces, nil
}

func (b *Bias) calcForcesSelf(x []colvar.Value) ([]colvar.Value, error) {
	forces := make([]colvar.Value, len(b.Vars))
	for i, v := range b.Vars {
		forces[i] = colvar.FromComponents(v.Kind(), make([]float64, v.Kind().Size()))
	}

	if b.useGrids {
		ix := b.gradientGrid.BinOf(x)
		if b.gradientGrid.IndexOK(ix) {
			grad := b.gradientGrid.Force(ix)
			for i, v := range b.Vars {
				start, end := b.gradientGrid.ComponentRange(i)
				comp := make([]float64, end-start)
				copy(comp, grad[start:end])
				forces[i] = colvar.FromComponents(v.Kind(), comp)
			}
		} else {
			analytic := calcHillsForce(b.Vars, x, b.eachOffGrid)
			for i := range forces {
				forces[i] = analytic[i]
			}
		}
	} else {
		analytic := calcHillsForce(b.Vars, x, b.hills.Each)
		for i := range forces {
			forces[i] = analytic[i]
		}
		return forces, nil
	}

	extra := calcHillsForce(b.Vars, x, b.eachUnprojected)
	for i := range forces {
		forces[i] = forces[i].Add(extra[i])
	}
	return forces, nil
}

func (b *Bias) appendTrajRecord(h *Hill) {
	b.trajBuf = append(b.trajBuf, []byte(formatHillRecord(h))...)
}

// FlushTrajectory writes and clears any buffered hills-trajectory records.
func (b *Bias) FlushTrajectory(w io.Writer) error {
	if len(b.trajBuf) == 0 {
		return nil
	}
	_, err := w.Write(b.trajBuf)
	b.trajBuf = b.trajBuf[:0]
	return err
}
