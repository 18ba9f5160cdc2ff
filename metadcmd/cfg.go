// Package metadcmd assembles the metad command-line interface: a cobra
// command tree bound to a viper configuration, following the structure
// inmaputil/cmd.go uses for InMAP (spec.md §2 "[ADDED]").
package metadcmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds the command tree and its bound configuration.
type Cfg struct {
	*viper.Viper

	inputFiles  []string
	outputFiles []string

	Root                                     *cobra.Command
	versionCmd, runCmd, replicaCmd, pmfCmd    *cobra.Command
	reportCmd                                 *cobra.Command
	cloudCmd, cloudStartCmd, cloudStatusCmd   *cobra.Command
	cloudOutputCmd, cloudDeleteCmd            *cobra.Command
}

// InputFiles returns the names of the configuration options that represent
// input files.
func (cfg *Cfg) InputFiles() []string { return cfg.inputFiles }

// OutputFiles returns the names of the configuration options that represent
// output files.
func (cfg *Cfg) OutputFiles() []string { return cfg.outputFiles }

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
	isInputFile             bool
	isOutputFile            bool
}

// active holds the most recently built Cfg, so subcommand RunE functions
// (defined as ordinary package functions rather than closures, to keep
// each subcommand's logic in its own file) can reach the bound
// configuration. Only one Cfg is ever live within a process.
var active *Cfg

// rootCfgFrom returns the Cfg backing cmd's command tree.
func rootCfgFrom(cmd *cobra.Command) *Cfg { return active }

// InitializeConfig builds the command tree, registers every flag named in
// the options table below across the flag sets that need it, and binds
// each to the viper configuration (following inmaputil/cmd.go exactly).
func InitializeConfig() *Cfg {
	cfg := &Cfg{Viper: viper.New()}

	cfg.Root = &cobra.Command{
		Use:   "metad",
		Short: "A file-coordinated metadynamics biasing engine.",
		Long: `metad drives a metadynamics bias against an external molecular
dynamics proxy: it deposits Gaussian hills, projects them onto a free-energy
grid, optionally coordinates multiple walkers through the file system, and
exports free-energy surfaces and reports.

Configuration can be set with a configuration file (--config), command-line
flags, or environment variables prefixed with METAD_. Refer to
https://github.com/spf13/viper for details.`,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setConfig(cfg)
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the version number",
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("metad v0.1.0")
		},
	}

	cfg.runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a metadynamics bias against a recorded CV trajectory.",
		Long: `run reads a whitespace-delimited CV trajectory file, one line per
step, and feeds it through the bias core exactly as an MD engine would
through the proxy interface, step by step.`,
		DisableAutoGenTag: true,
		RunE:              runRun,
	}

	cfg.replicaCmd = &cobra.Command{
		Use:   "replica",
		Short: "Run one registry sync cycle against peer walkers.",
		Long: `replica loads the replica registry, imports any peer hills and
state that are out of sync, and republishes this replica's own files, without
advancing the simulation. Useful for diagnosing multi-walker coordination.`,
		DisableAutoGenTag: true,
		RunE:              runReplica,
	}

	cfg.pmfCmd = &cobra.Command{
		Use:               "pmf",
		Short:             "Write the potential-of-mean-force file for a restart state.",
		DisableAutoGenTag: true,
		RunE:              runPMF,
	}

	cfg.reportCmd = &cobra.Command{
		Use:               "report",
		Short:             "Export a hill-deposition history and PMF plot.",
		DisableAutoGenTag: true,
		RunE:              runReport,
	}

	cfg.cloudCmd = &cobra.Command{
		Use:               "cloud",
		Short:             "Launch and manage replica walkers as Kubernetes Jobs.",
		DisableAutoGenTag: true,
	}
	cfg.cloudStartCmd = &cobra.Command{
		Use:               "start",
		Short:             "Launch cloudReplicas Kubernetes Jobs, one per walker.",
		DisableAutoGenTag: true,
		RunE:              cloudStart(cfg),
	}
	cfg.cloudStatusCmd = &cobra.Command{
		Use:               "status [job name]",
		Short:             "Print the status of a launched job.",
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE:              cloudStatus(cfg),
	}
	cfg.cloudOutputCmd = &cobra.Command{
		Use:               "output [job name] [directory]",
		Short:             "Download the output files of a completed job.",
		Args:              cobra.ExactArgs(2),
		DisableAutoGenTag: true,
		RunE:              cloudOutput(cfg),
	}
	cfg.cloudDeleteCmd = &cobra.Command{
		Use:               "delete [job name]",
		Short:             "Delete a job and its staged output.",
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE:              cloudDelete(cfg),
	}
	cfg.cloudCmd.AddCommand(cfg.cloudStartCmd, cfg.cloudStatusCmd, cfg.cloudOutputCmd, cfg.cloudDeleteCmd)

	cfg.Root.AddCommand(cfg.versionCmd, cfg.runCmd, cfg.replicaCmd, cfg.pmfCmd, cfg.reportCmd, cfg.cloudCmd)

	allCmds := cfg.Root.PersistentFlags()
	runFlags := cfg.runCmd.Flags()
	replicaFlags := cfg.replicaCmd.Flags()
	pmfFlags := cfg.pmfCmd.Flags()
	reportFlags := cfg.reportCmd.Flags()
	cloudFlags := cfg.cloudStartCmd.Flags()

	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
		isInputFile            bool
		isOutputFile           bool
	}{
		{
			name:       "config",
			usage:      "config is the path to a configuration file.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{allCmds},
		},
		{
			name:       "name",
			usage:      "name identifies the bias; used in log messages and default output file names.",
			defaultVal: "metad",
			flagsets:   []*pflag.FlagSet{allCmds},
		},
		{
			name:       "outputPrefix",
			usage:      "outputPrefix is prepended to every output file name (spec.md §6).",
			defaultVal: "metad",
			flagsets:   []*pflag.FlagSet{allCmds},
		},
		{
			name:       "cvFile",
			usage:      "cvFile is a whitespace-delimited text file of scalar CV trajectories, one line per step.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runFlags},
			isInputFile: true,
		},
		{
			name:       "stateFile",
			usage:      "stateFile is the restart state file to read (if it exists) and to write at exit.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runFlags, replicaFlags, pmfFlags},
		},
		{
			name:       "hillsFile",
			usage:      "hillsFile is the text hills trajectory file used for multiple-replicas coordination.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runFlags, replicaFlags},
		},
		{
			name:       "hillWeight",
			usage:      "hillWeight is W, the weight of each deposited hill; must be > 0.",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "newHillFrequency",
			usage:      "newHillFrequency is the number of steps between deposition attempts.",
			defaultVal: 1000,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "hillWidth",
			usage:      "hillWidth is a dimensionless multiple of each CV's bin width (mutually exclusive with gaussianSigmas).",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "gaussianSigmas",
			usage:      "gaussianSigmas gives each CV's Gaussian width directly, comma-separated.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "useGrids",
			usage:      "useGrids enables grid acceleration.",
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "gridsUpdateFrequency",
			usage:      "gridsUpdateFrequency projects hills to the grid every K steps (default = newHillFrequency).",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "rebinGrids",
			usage:      "rebinGrids re-bins the grids from the hill list on restart instead of reusing the stored grids.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "writeFreeEnergyFile",
			usage:      "writeFreeEnergyFile dumps a .pmf file at output time.",
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "keepHills",
			usage:      "keepHills retains hills in memory after projection instead of erasing them.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "keepFreeEnergyFiles",
			usage:      "keepFreeEnergyFiles is stored in the bias configuration; no subcommand writes time-stamped PMF files.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "wellTempered",
			usage:      "wellTempered enables well-tempered hill-weight scaling.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "biasTemperature",
			usage:      "biasTemperature is the well-tempered bias temperature, T_bias.",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "ebMeta",
			usage:      "ebMeta enables ensemble-biased target-distribution scaling.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:        "targetDistFile",
			usage:       "targetDistFile is a text grid file of the ebMeta target distribution.",
			defaultVal:  "",
			flagsets:    []*pflag.FlagSet{runFlags},
			isInputFile: true,
		},
		{
			name:        "targetDistExpression",
			usage:       "targetDistExpression is a govaluate expression file populating the ebMeta target grid instead of targetDistFile.",
			defaultVal:  "",
			flagsets:    []*pflag.FlagSet{runFlags},
			isInputFile: true,
		},
		{
			name:       "targetDistMinVal",
			usage:      "targetDistMinVal floors the ebMeta target distribution.",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "ebMetaEquilSteps",
			usage:      "ebMetaEquilSteps is the number of equilibration steps over which ebMeta scaling ramps linearly in from 1.",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "useHillsReflection",
			usage:      "useHillsReflection enables boundary-reflection hills.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionType",
			usage:      "reflectionType selects mono (one mirror hill) or multi (every non-empty subset of limits).",
			defaultVal: "mono",
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionRange",
			usage:      "reflectionRange is the distance from a limit (in sigmas) within which reflection activates.",
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionLowLimitUseCVs",
			usage:      "reflectionLowLimitUseCVs lists the CV indices (0-based) with a configured lower reflection limit.",
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionLowLimit",
			usage:      "reflectionLowLimit lists the lower reflection limit values, one per entry in reflectionLowLimitUseCVs.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionUpLimitUseCVs",
			usage:      "reflectionUpLimitUseCVs lists the CV indices (0-based) with a configured upper reflection limit.",
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "reflectionUpLimit",
			usage:      "reflectionUpLimit lists the upper reflection limit values, one per entry in reflectionUpLimitUseCVs.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "useHillsInterval",
			usage:      "useHillsInterval enables force clipping at interval limits.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "intervalLowLimitUseCVs",
			usage:      "intervalLowLimitUseCVs lists the CV indices (0-based) with a configured lower interval limit.",
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "intervalLowLimit",
			usage:      "intervalLowLimit lists the lower interval limit values, one per entry in intervalLowLimitUseCVs.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "intervalUpLimitUseCVs",
			usage:      "intervalUpLimitUseCVs lists the CV indices (0-based) with a configured upper interval limit.",
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "intervalUpLimit",
			usage:      "intervalUpLimit lists the upper interval limit values, one per entry in intervalUpLimitUseCVs.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "multipleReplicas",
			usage:      "multipleReplicas enables file-coordinated multi-walker mode.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags, replicaFlags},
		},
		{
			name:       "replicaID",
			usage:      "replicaID identifies this walker in the replica registry.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runFlags, replicaFlags},
		},
		{
			name:       "replicasRegistry",
			usage:      "replicasRegistry is the path to the shared replica registry file.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runFlags, replicaFlags},
		},
		{
			name:       "replicaUpdateFrequency",
			usage:      "replicaUpdateFrequency is the number of steps between registry sync cycles.",
			defaultVal: 1000,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:       "writeHillsTrajectory",
			usage:      "writeHillsTrajectory records every deposited hill; the records go to the .hills.traj file, except that in multipleReplicas mode each sync cycle moves the records so far into hillsFile.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runFlags},
		},
		{
			name:        "pmfFile",
			usage:       "pmfFile is the path the pmf subcommand writes the potential-of-mean-force to.",
			defaultVal:  "",
			flagsets:    []*pflag.FlagSet{pmfFlags},
			isOutputFile: true,
		},
		{
			name:        "reportFile",
			usage:       "reportFile is the .xlsx workbook path the report subcommand writes to.",
			defaultVal:  "",
			flagsets:    []*pflag.FlagSet{reportFlags},
			isOutputFile: true,
		},
		{
			name:       "gridExportFormat",
			usage:      "gridExportFormat is accepted but not read; grids are written in the text format only.",
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{runFlags, reportFlags},
		},
		{
			name:       "cloudReplicas",
			usage:      "cloudReplicas is the number of Kubernetes Jobs the cloud start subcommand launches.",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{cloudFlags},
		},
		{
			name:       "cloudImage",
			usage:      "cloudImage is the container image used for cloud-launched replica Jobs.",
			defaultVal: "metad:latest",
			flagsets:   []*pflag.FlagSet{cloudFlags},
		},
		{
			name:       "cloudBucket",
			usage:      "cloudBucket is the blob storage bucket URL output artifacts are uploaded to.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cloudFlags},
		},
		{
			name:       "cloudMemoryGB",
			usage:      "cloudMemoryGB is the memory, in gigabytes, requested for each replica Job.",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{cloudFlags},
		},
	}

	cfg.SetEnvPrefix("METAD")

	for _, option := range options {
		if option.isInputFile {
			cfg.inputFiles = append(cfg.inputFiles, option.name)
		}
		if option.isOutputFile {
			cfg.outputFiles = append(cfg.outputFiles, option.name)
		}
		for i, set := range option.flagsets {
			if i != 0 {
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.String(option.name, v, option.usage)
			case []string:
				set.StringSlice(option.name, v, option.usage)
			case bool:
				set.Bool(option.name, v, option.usage)
			case int:
				set.Int(option.name, v, option.usage)
			case []int:
				set.IntSlice(option.name, v, option.usage)
			case float64:
				set.Float64(option.name, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.String(option.name, b.String(), option.usage)
			default:
				panic(fmt.Errorf("metadcmd: invalid option default type: %T", option.defaultVal))
			}
			cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
	active = cfg
	return cfg
}

// setConfig reads in the configuration file named by --config, if any.
func setConfig(cfg *Cfg) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("metadcmd: reading configuration file: %w", err)
		}
	}
	return nil
}
