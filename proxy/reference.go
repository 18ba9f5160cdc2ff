package proxy

import (
	"io"
	"os"
	"path/filepath"
)

// ReferenceMD is a minimal, file-system-backed MD used by package tests and
// by the `metad` CLI's standalone demo mode. It is not a simulation engine;
// it only satisfies the MD contract well enough to exercise the bias core.
type ReferenceMD struct {
	KB        float64
	Temp      float64
	Dt        float64
	StepNum   int64
	Index     int
	Total     int
	OutputDir string
}

// NewReferenceMD builds a ReferenceMD with Boltzmann's constant in kcal/(mol
// K), matching the convention most MD engines the colvars module bridges to
// use internally.
func NewReferenceMD(outputDir string) *ReferenceMD {
	return &ReferenceMD{
		KB:        0.0019872041,
		Temp:      300,
		Dt:        1,
		Index:     0,
		Total:     1,
		OutputDir: outputDir,
	}
}

func (r *ReferenceMD) BoltzmannConstant() float64   { return r.KB }
func (r *ReferenceMD) Temperature() float64         { return r.Temp }
func (r *ReferenceMD) Timestep() float64            { return r.Dt }
func (r *ReferenceMD) Step() int64                  { return r.StepNum }
func (r *ReferenceMD) ReplicaIndex() (int, int)      { return r.Index, r.Total }

func (r *ReferenceMD) OutputStream(name string) (io.WriteCloser, error) {
	path := filepath.Join(r.OutputDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (r *ReferenceMD) Rename(oldPath, newPath string) error { return os.Rename(oldPath, newPath) }
func (r *ReferenceMD) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
