package metadcmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spatialmodel/colvars/report"
)

// runReport implements the `report` subcommand: export the hills
// trajectory file to an .xlsx workbook (spec.md §2 "[ADDED]" report
// package) and, for a single-CV bias, a diagnostic PMF plot alongside it.
func runReport(cmd *cobra.Command, args []string) error {
	cfg := rootCfgFrom(cmd)

	name := cfg.GetString("name")
	outputPrefix := cfg.GetString("outputPrefix")

	hillsFile := cfg.GetString("hillsFile")
	if hillsFile == "" {
		hillsFile = fmt.Sprintf("%s.colvars.%s.%s.hills", outputPrefix, name, cfg.GetString("replicaID"))
	}
	trajPath := hillsFile + ".traj"
	tf, err := os.Open(trajPath)
	if err != nil {
		return fmt.Errorf("metadcmd: opening hills trajectory %s: %w", trajPath, err)
	}
	hills, err := report.ReadTrajectory(tf)
	tf.Close()
	if err != nil {
		return err
	}

	reportFile, err := checkOutputFile(cfg.GetString("reportFile"))
	if err != nil {
		return err
	}
	out, err := os.Create(reportFile)
	if err != nil {
		return err
	}
	if err := report.WriteWorkbook(out, name, hills); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	pmfPath := fmt.Sprintf("%s.%s.pmf", outputPrefix, name)
	points, err := readPMF1D(pmfPath)
	if err != nil {
		// The pmf file is optional reporting input; skip the plot if it's
		// missing or has more than one CV.
		return nil
	}
	plotPath := strings.TrimSuffix(reportFile, filepath.Ext(reportFile)) + ".png"
	pf, err := os.Create(plotPath)
	if err != nil {
		return err
	}
	defer pf.Close()
	return report.WritePMFPlot(pf, name, points)
}

// readPMF1D reads a metad.Bias.WritePMF dump and returns its points if the
// dump has exactly one CV column.
func readPMF1D(path string) ([]report.PMFPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []report.PMFPoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("metadcmd: pmf file has %d CVs, plot only supports one", len(fields)-1)
		}
		cv, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, err
		}
		pmf, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, err
		}
		points = append(points, report.PMFPoint{CV: cv, PMF: pmf})
	}
	return points, sc.Err()
}
