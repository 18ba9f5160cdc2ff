package metadcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spatialmodel/colvars/metad"
	"github.com/spatialmodel/colvars/proxy"
)

// runPMF implements the `pmf` subcommand: restore a restart state and
// write its free-energy surface in the multicolumn text format (spec.md
// §6, metad.Bias.WritePMF), without running any further steps.
func runPMF(cmd *cobra.Command, args []string) error {
	cfg := rootCfgFrom(cmd)

	vars, err := buildVariables(cfg.Viper)
	if err != nil {
		return err
	}
	biasCfg, err := buildBiasConfig(cfg.Viper, vars)
	if err != nil {
		return err
	}
	biasCfg.UseGrids = true

	md := proxy.NewReferenceMD(".")
	bias, err := metad.NewBias(cfg.GetString("name"), vars, md, biasCfg)
	if err != nil {
		return err
	}

	stateFile := cfg.GetString("stateFile")
	if stateFile == "" {
		return fmt.Errorf("metadcmd: pmf requires --stateFile")
	}
	f, err := os.Open(stateFile)
	if err != nil {
		return fmt.Errorf("metadcmd: opening stateFile: %w", err)
	}
	err = bias.ReadStateText(f)
	f.Close()
	if err != nil {
		return err
	}

	pmfFile, err := checkOutputFile(cfg.GetString("pmfFile"))
	if err != nil {
		return err
	}
	pf, err := os.Create(pmfFile)
	if err != nil {
		return err
	}
	defer pf.Close()
	return bias.WritePMF(pf)
}
