/*
Copyright © 2018 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"fmt"
	"os/exec"
	"testing"

	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	batch "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// NewFakeClient creates a client for testing. Jobs created using this
// client run the named command locally instead of launching a real
// Kubernetes Job, so a compiled `metad` binary on PATH is exercised the
// same way a real cluster would invoke the container image.
func NewFakeClient(t *testing.T, root *cobra.Command, config *viper.Viper, bucket string) (*Client, error) {
	k8sClient := fake.NewSimpleClientset()
	k8sClient.Fake.PrependReactor("create", "jobs", fakeRun(t))
	return NewClient(k8sClient, root, config, bucket, nil, nil)
}

// fakeRun runs the command specified by the job locally in place of
// scheduling it on a cluster.
func fakeRun(t *testing.T) func(action k8stesting.Action) (handled bool, ret runtime.Object, err error) {
	return func(action k8stesting.Action) (handled bool, ret runtime.Object, err error) {
		job := action.(k8stesting.CreateAction).GetObject().(*batch.Job)
		cmd := job.Spec.Template.Spec.Containers[0].Command
		args := job.Spec.Template.Spec.Containers[0].Args
		for i := 0; i < len(args); i += 2 {
			cmd = append(cmd, fmt.Sprintf("%s=%s", args[i], args[i+1]))
		}
		xcmd := exec.Command(cmd[0], cmd[1:]...)
		o, err := xcmd.CombinedOutput()
		if err != nil {
			t.Logf("fakeRun: %v: %s", err, o)
		}
		return false, job, nil
	}
}
