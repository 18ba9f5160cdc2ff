package metadcmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/metad"
	"github.com/spatialmodel/colvars/proxy"
)

// runRun implements the `run` subcommand: it reads a recorded CV
// trajectory and feeds it through the bias core exactly as an MD engine
// would through the proxy.MD interface, one line per step (spec.md §1
// "[ADDED]" reference proxy).
func runRun(cmd *cobra.Command, args []string) error {
	cfg := rootCfgFrom(cmd)

	vars, err := buildVariables(cfg.Viper)
	if err != nil {
		return err
	}
	biasCfg, err := buildBiasConfig(cfg.Viper, vars)
	if err != nil {
		return err
	}

	name := cfg.GetString("name")
	outputPrefix := cfg.GetString("outputPrefix")
	md := proxy.NewReferenceMD(".")

	bias, err := metad.NewBias(name, vars, md, biasCfg)
	if err != nil {
		return err
	}
	bias.ReplicaID = cfg.GetString("replicaID")

	stateFile := cfg.GetString("stateFile")
	if stateFile == "" {
		stateFile = fmt.Sprintf("%s.%s.%s.state", outputPrefix, name, bias.ReplicaID)
	}
	if f, err := os.Open(stateFile); err == nil {
		err = bias.ReadStateText(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("metadcmd: restoring %s: %w", stateFile, err)
		}
		logrus.WithField("bias", name).Infof("restored restart state from %s", stateFile)
	}

	var rc *metad.ReplicaCoordinator
	replicaUpdateFreq := int64(cfg.GetInt("replicaUpdateFrequency"))
	if cfg.GetBool("multipleReplicas") {
		hillsFile := cfg.GetString("hillsFile")
		if hillsFile == "" {
			hillsFile = fmt.Sprintf("%s.colvars.%s.%s.hills", outputPrefix, name, bias.ReplicaID)
		}
		rc = metad.NewReplicaCoordinator(bias, cfg.GetString("replicasRegistry"), hillsFile, stateFile)
		if err := rc.Setup(); err != nil {
			return err
		}
		if err := rc.LoadRegistry(); err != nil {
			return err
		}
	}

	cvFile, err := maybeDownload(context.Background(), cfg.GetString("cvFile"))
	if err != nil {
		return fmt.Errorf("metadcmd: fetching cvFile: %w", err)
	}
	f, err := os.Open(cvFile)
	if err != nil {
		return fmt.Errorf("metadcmd: opening cvFile: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var step int64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		x, err := parseCVLine(line, len(vars))
		if err != nil {
			return fmt.Errorf("metadcmd: cvFile line %d: %w", step+1, err)
		}
		step++
		md.StepNum = step

		if _, err := bias.Step(x); err != nil {
			return err
		}
		if rc != nil && step%replicaUpdateFreq == 0 {
			if err := rc.Sync(); err != nil {
				logrus.WithField("bias", name).Warnf("replica sync: %v", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	return writeRunOutputs(cfg, bias, stateFile)
}

// parseCVLine parses a whitespace-delimited line of n scalar CV values.
func parseCVLine(line string, n int) ([]colvar.Value, error) {
	fields := strings.Fields(line)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d CV values, got %d", n, len(fields))
	}
	x := make([]colvar.Value, n)
	for i, field := range fields {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		x[i] = colvar.NewScalar(f)
	}
	return x, nil
}

// writeRunOutputs writes the restart state, hills trajectory, and (if
// configured) the pmf file named in spec.md §6's "Files written" list.
func writeRunOutputs(cfg *Cfg, bias *metad.Bias, stateFile string) error {
	tmp := stateFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("metadcmd: writing restart state: %w", err)
	}
	if err := bias.WriteStateText(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, stateFile); err != nil {
		return fmt.Errorf("metadcmd: renaming restart state: %w", err)
	}

	if cfg.GetBool("writeHillsTrajectory") {
		hillsFile := cfg.GetString("hillsFile")
		if hillsFile == "" {
			hillsFile = fmt.Sprintf("%s.colvars.%s.%s.hills", cfg.GetString("outputPrefix"), cfg.GetString("name"), bias.ReplicaID)
		}
		tf, err := os.Create(hillsFile + ".traj")
		if err != nil {
			return err
		}
		defer tf.Close()
		if err := bias.FlushTrajectory(tf); err != nil {
			return err
		}
	}

	if cfg.GetBool("writeFreeEnergyFile") {
		pmfFile := fmt.Sprintf("%s.%s.pmf", cfg.GetString("outputPrefix"), cfg.GetString("name"))
		pf, err := os.Create(pmfFile)
		if err != nil {
			return err
		}
		defer pf.Close()
		if err := bias.WritePMF(pf); err != nil {
			return err
		}
	}
	return nil
}
