package metadcmd

import (
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/lnashier/viper"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/metad"
)

// checkOutputFile expands environment variables in f and ensures the
// parent directory exists, mirroring inmaputil's checkOutputFile.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf("metadcmd: an output file path is required")
	}
	f = os.ExpandEnv(f)
	if dir := filepath.Dir(f); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("metadcmd: creating output directory %s: %w", dir, err)
		}
	}
	return f, nil
}

// colvarSpec is the shape of one entry of the "colvars" configuration key:
// a list of maps, each describing one scalar CV (spec.md §3.1, §6).
type colvarSpec struct {
	Name     string
	Width    float64
	Lower    float64
	HasLower bool
	Upper    float64
	HasUpper bool
	Expand   bool
	Periodic bool
	Period   float64
}

// buildVariables reads the "colvars" configuration key and constructs the
// []colvar.Variable the bias core operates over. Only colvar.Scalar is
// supported from configuration, matching the restriction the text restart
// format already imposes (metad/state.go's parseHillLine doc comment).
func buildVariables(cfg *viper.Viper) ([]colvar.Variable, error) {
	raw, ok := cfg.Get("colvars").([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("metadcmd: configuration must list at least one entry under 'colvars'")
	}
	vars := make([]colvar.Variable, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("metadcmd: colvars[%d] is not a mapping", i)
		}
		spec, err := parseColvarSpec(m)
		if err != nil {
			return nil, fmt.Errorf("metadcmd: colvars[%d]: %w", i, err)
		}
		vars[i] = &colvar.Scalar{
			VarName:     spec.Name,
			VarWidth:    spec.Width,
			LowerBound:  spec.Lower,
			HasLower:    spec.HasLower,
			UpperBound:  spec.Upper,
			HasUpper:    spec.HasUpper,
			Periodic:    spec.Periodic,
			PeriodValue: spec.Period,
			Expand:      spec.Expand,
		}
	}
	return vars, nil
}

func parseColvarSpec(m map[string]interface{}) (colvarSpec, error) {
	var s colvarSpec
	name, _ := m["name"].(string)
	if name == "" {
		return s, fmt.Errorf("missing 'name'")
	}
	s.Name = name
	s.Width = toFloat(m["width"])
	if s.Width <= 0 {
		return s, fmt.Errorf("colvar %q: 'width' must be > 0", name)
	}
	if v, ok := m["lower"]; ok {
		s.Lower, s.HasLower = toFloat(v), true
	}
	if v, ok := m["upper"]; ok {
		s.Upper, s.HasUpper = toFloat(v), true
	}
	if v, ok := m["expand"].(bool); ok {
		s.Expand = v
	}
	if v, ok := m["periodic"].(bool); ok {
		s.Periodic = v
	}
	if v, ok := m["period"]; ok {
		s.Period = toFloat(v)
	}
	return s, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// buildBiasConfig translates the flat configuration keys named in
// spec.md §6 into a metad.Config.
func buildBiasConfig(cfg *viper.Viper, vars []colvar.Variable) (metad.Config, error) {
	c := metad.Config{
		HillWeight:           cfg.GetFloat64("hillWeight"),
		NewHillFrequency:     int64(cfg.GetInt("newHillFrequency")),
		HillWidth:            cfg.GetFloat64("hillWidth"),
		UseGrids:             cfg.GetBool("useGrids"),
		GridsUpdateFrequency: int64(cfg.GetInt("gridsUpdateFrequency")),
		RebinGrids:           cfg.GetBool("rebinGrids"),
		WriteFreeEnergyFile:  cfg.GetBool("writeFreeEnergyFile"),
		KeepHills:            cfg.GetBool("keepHills"),
		KeepFreeEnergyFiles:  cfg.GetBool("keepFreeEnergyFiles"),
		WriteHillsTrajectory: cfg.GetBool("writeHillsTrajectory"),
		WellTempered:         cfg.GetBool("wellTempered"),
		BiasTemperature:      cfg.GetFloat64("biasTemperature"),
		EBMeta:               cfg.GetBool("ebMeta"),
		TargetDistMinVal:     cfg.GetFloat64("targetDistMinVal"),
		EBMetaEquilSteps:     int64(cfg.GetInt("ebMetaEquilSteps")),
		ReflectionRange:      cfg.GetFloat64("reflectionRange"),
	}
	if sigmas := cfg.GetStringSlice("gaussianSigmas"); len(sigmas) > 0 {
		c.Sigmas = make([]float64, len(sigmas))
		for i, s := range sigmas {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return c, fmt.Errorf("metadcmd: gaussianSigmas[%d]: %w", i, err)
			}
			c.Sigmas[i] = f
		}
	}

	if cfg.GetBool("useHillsReflection") {
		switch cfg.GetString("reflectionType") {
		case "multi":
			c.ReflectionType = metad.ReflectionMulti
		default:
			c.ReflectionType = metad.ReflectionMono
		}
		var err error
		c.ReflectionLower, err = limitsByCV(len(vars), cfg.GetIntSlice("reflectionLowLimitUseCVs"), cfg.GetStringSlice("reflectionLowLimit"))
		if err != nil {
			return c, fmt.Errorf("metadcmd: reflectionLowLimit: %w", err)
		}
		c.ReflectionUpper, err = limitsByCV(len(vars), cfg.GetIntSlice("reflectionUpLimitUseCVs"), cfg.GetStringSlice("reflectionUpLimit"))
		if err != nil {
			return c, fmt.Errorf("metadcmd: reflectionUpLimit: %w", err)
		}
	} else {
		c.ReflectionType = metad.ReflectionNone
	}

	if cfg.GetBool("useHillsInterval") {
		var err error
		c.IntervalLower, err = limitsByCV(len(vars), cfg.GetIntSlice("intervalLowLimitUseCVs"), cfg.GetStringSlice("intervalLowLimit"))
		if err != nil {
			return c, fmt.Errorf("metadcmd: intervalLowLimit: %w", err)
		}
		c.IntervalUpper, err = limitsByCV(len(vars), cfg.GetIntSlice("intervalUpLimitUseCVs"), cfg.GetStringSlice("intervalUpLimit"))
		if err != nil {
			return c, fmt.Errorf("metadcmd: intervalUpLimit: %w", err)
		}
	}

	if c.EBMeta {
		g, err := loadTargetDist(cfg, vars)
		if err != nil {
			return c, err
		}
		c.TargetDist = g
	}
	return c, nil
}

// limitsByCV scatters the (useCVs, values) parallel-list configuration
// convention (spec.md §6 "reflection{Low,Up}LimitUseCVs") into a dense
// []*float64 indexed by CV position, which is the shape metad.Config
// expects.
func limitsByCV(nvars int, useCVs []int, values []string) ([]*float64, error) {
	if len(useCVs) != len(values) {
		return nil, fmt.Errorf("useCVs has %d entries but limit has %d", len(useCVs), len(values))
	}
	out := make([]*float64, nvars)
	for i, cvIdx := range useCVs {
		if cvIdx < 0 || cvIdx >= nvars {
			return nil, fmt.Errorf("CV index %d out of range [0,%d)", cvIdx, nvars)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(values[i]), 64)
		if err != nil {
			return nil, err
		}
		out[cvIdx] = &f
	}
	return out, nil
}

// loadTargetDist builds the ebMeta target grid from either targetDistFile
// (a text grid dump in the format metad.ScalarGrid.WriteText produces) or
// targetDistExpression (a file holding one govaluate expression, evaluated
// at each bin center with each CV's coordinate bound to the CV's name).
// The loaded grid is normalized to unit integral and then multiplied by
// exp(entropy), its effective volume.
func loadTargetDist(cfg *viper.Viper, vars []colvar.Variable) (*metad.ScalarGrid, error) {
	g, err := metad.NewScalarGrid(vars)
	if err != nil {
		return nil, fmt.Errorf("metadcmd: allocating target distribution grid: %w", err)
	}
	if exprFile := cfg.GetString("targetDistExpression"); exprFile != "" {
		err = populateTargetDistExpression(g, vars, exprFile)
	} else if distFile := cfg.GetString("targetDistFile"); distFile != "" {
		err = populateTargetDistFile(g, vars, distFile)
	} else {
		return nil, fmt.Errorf("metadcmd: ebMeta requires targetDistFile or targetDistExpression")
	}
	if err != nil {
		return g, err
	}
	if in := g.Integral(); in > 0 {
		g.MultiplyConstant(1 / in)
		g.MultiplyConstant(math.Exp(g.Entropy()))
	}
	return g, nil
}

func populateTargetDistExpression(g *metad.ScalarGrid, vars []colvar.Variable, path string) error {
	path, err := maybeDownload(context.Background(), path)
	if err != nil {
		return fmt.Errorf("metadcmd: fetching targetDistExpression: %w", err)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("metadcmd: reading targetDistExpression: %w", err)
	}
	expr, err := govaluate.NewEvaluableExpression(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("metadcmd: parsing targetDistExpression: %w", err)
	}
	params := make(map[string]interface{}, len(vars))
	ix := g.FirstIndex()
	for g.IndexOK(ix) {
		for i, v := range vars {
			params[v.Name()] = g.BinToValue(ix, i)
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			return fmt.Errorf("metadcmd: evaluating targetDistExpression: %w", err)
		}
		f, ok := result.(float64)
		if !ok {
			return fmt.Errorf("metadcmd: targetDistExpression must evaluate to a number, got %T", result)
		}
		g.AccValue(ix, f)
		g.Incr(ix)
	}
	return nil
}

func populateTargetDistFile(g *metad.ScalarGrid, vars []colvar.Variable, path string) error {
	path, err := maybeDownload(context.Background(), path)
	if err != nil {
		return fmt.Errorf("metadcmd: fetching targetDistFile: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("metadcmd: opening targetDistFile: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != len(vars)+1 {
			return fmt.Errorf("metadcmd: targetDistFile line %q has %d fields, want %d", line, len(fields), len(vars)+1)
		}
		values := make([]colvar.Value, len(vars))
		for i := range vars {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return fmt.Errorf("metadcmd: targetDistFile: %w", err)
			}
			values[i] = colvar.NewScalar(v)
		}
		value, err := strconv.ParseFloat(fields[len(vars)], 64)
		if err != nil {
			return fmt.Errorf("metadcmd: targetDistFile: %w", err)
		}
		ix := g.BinOf(values)
		if !g.IndexOK(ix) {
			continue
		}
		g.AccValue(ix, value)
	}
	return sc.Err()
}
