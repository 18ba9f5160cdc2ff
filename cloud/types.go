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

// Status is the lifecycle state of a cloud-launched replica job, replacing
// the teacher's cloudrpc.Status enum (the grpc-web service the teacher
// fronted these with is not part of this module).
type Status int

const (
	StatusMissing Status = iota
	StatusWaiting
	StatusRunning
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "missing"
	}
}

// JobName identifies a cloud job.
type JobName struct {
	Name string
}

// JobSpec describes a replica run to launch as a Kubernetes Job (spec.md
// §6 "cloudReplicas"/"cloudImage" addition).
type JobSpec struct {
	Name     string
	Cmd      []string
	Args     []string
	MemoryGB int32
	FileData map[string][]byte
}

// JobStatus reports a job's current lifecycle state.
type JobStatus struct {
	Status         Status
	Message        string
	StartTime      int64
	CompletionTime int64
}

// JobOutput holds the retrieved output files of a completed job, keyed by
// base file name.
type JobOutput struct {
	Files map[string][]byte
}
