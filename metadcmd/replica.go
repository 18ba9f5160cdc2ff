package metadcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spatialmodel/colvars/metad"
	"github.com/spatialmodel/colvars/proxy"
)

// runReplica implements the `replica` subcommand: a single registry sync
// cycle against peer walkers, without advancing the simulation. It is a
// diagnostic entry point into metad.ReplicaCoordinator.Sync (spec.md
// §4.7), independent of the continuous `run` loop.
func runReplica(cmd *cobra.Command, args []string) error {
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
	replicaID := cfg.GetString("replicaID")
	md := proxy.NewReferenceMD(".")
	bias, err := metad.NewBias(name, vars, md, biasCfg)
	if err != nil {
		return err
	}
	bias.ReplicaID = replicaID

	stateFile := cfg.GetString("stateFile")
	if stateFile == "" {
		return fmt.Errorf("metadcmd: replica requires --stateFile")
	}
	if f, err := os.Open(stateFile); err == nil {
		err = bias.ReadStateText(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	hillsFile := cfg.GetString("hillsFile")
	if hillsFile == "" {
		return fmt.Errorf("metadcmd: replica requires --hillsFile")
	}

	rc := metad.NewReplicaCoordinator(bias, cfg.GetString("replicasRegistry"), hillsFile, stateFile)
	if err := rc.Setup(); err != nil {
		return err
	}
	if err := rc.LoadRegistry(); err != nil {
		return err
	}
	return rc.Sync()
}
