// Command metad is a command-line interface for the metadynamics biasing
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/colvars/metadcmd"
)

func main() {
	cfg := metadcmd.InitializeConfig()
	if err := cfg.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
