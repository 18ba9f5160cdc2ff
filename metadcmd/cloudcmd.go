package metadcmd

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/spatialmodel/colvars/cloud"
)

// cloudUser is the identity replica output is namespaced under in blob
// storage (cloud.Client.jobOutputAddresses); the distributed CLI has no
// authentication layer of its own, so the OS user is used, matching the
// teacher's single-operator cloud workflow.
func cloudUser(ctx context.Context) (context.Context, error) {
	u := os.Getenv("USER")
	if u == "" {
		u = "metad"
	}
	return context.WithValue(ctx, "user", u), nil
}

func newCloudClient(cfg *Cfg) (*cloud.Client, error) {
	kcfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("metadcmd: cloud subcommands require an in-cluster or configured Kubernetes context: %w", err)
	}
	k, err := kubernetes.NewForConfig(kcfg)
	if err != nil {
		return nil, err
	}
	return cloud.NewClient(k, cfg.Root, cfg.Viper, cfg.GetString("cloudBucket"), cfg.InputFiles(), cfg.OutputFiles())
}

// cloudStart launches cloudReplicas Kubernetes Jobs, one per walker, each
// running `metad run` with replicaID set to its index (spec.md §5
// "[ADDED]" cloud-launch exception).
func cloudStart(cfg *Cfg) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newCloudClient(cfg)
		if err != nil {
			return err
		}
		client.Image = cfg.GetString("cloudImage")

		ctx, err := cloudUser(context.Background())
		if err != nil {
			return err
		}
		n := cfg.GetInt("cloudReplicas")
		if n <= 0 {
			return fmt.Errorf("metadcmd: cloud start requires cloudReplicas > 0")
		}
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("%s-%d", cfg.GetString("name"), i)
			cfg.Set("replicaID", fmt.Sprint(i))
			js, err := cloud.BuildJobSpec(cfg.Root, cfg.Viper, name, []string{"run"}, cfg.InputFiles(), int32(cfg.GetInt("cloudMemoryGB")))
			if err != nil {
				return err
			}
			status, err := client.RunJob(ctx, js)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", name, status.Status)
		}
		return nil
	}
}

func cloudStatus(cfg *Cfg) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newCloudClient(cfg)
		if err != nil {
			return err
		}
		ctx, err := cloudUser(context.Background())
		if err != nil {
			return err
		}
		status, err := client.Status(ctx, &cloud.JobName{Name: args[0]})
		if err != nil {
			return err
		}
		cmd.Printf("%s: %s %s\n", args[0], status.Status, status.Message)
		return nil
	}
}

func cloudOutput(cfg *Cfg) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newCloudClient(cfg)
		if err != nil {
			return err
		}
		ctx, err := cloudUser(context.Background())
		if err != nil {
			return err
		}
		out, err := client.Output(ctx, &cloud.JobName{Name: args[0]})
		if err != nil {
			return err
		}
		dir := args[1]
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for name, data := range out.Files {
			if err := ioutil.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func cloudDelete(cfg *Cfg) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newCloudClient(cfg)
		if err != nil {
			return err
		}
		ctx, err := cloudUser(context.Background())
		if err != nil {
			return err
		}
		_, err = client.Delete(ctx, &cloud.JobName{Name: args[0]})
		return err
	}
}
