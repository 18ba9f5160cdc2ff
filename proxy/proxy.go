/*
Copyright © 2013 the InMAP authors.
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

// Package proxy declares the bridge between the bias engine core and the MD
// simulation driver (spec.md §1). The driver's implementation is out of
// scope; the core only ever calls through this interface.
package proxy

import "io"

// MD is the set of driver services the core depends on: physical constants,
// the current replica's identity, and output-stream lifecycle management.
// A real integration implements MD against its own engine; ReferenceMD (see
// reference.go) is a minimal file-system-backed stand-in used by tests and
// by the metad CLI.
type MD interface {
	// BoltzmannConstant returns k_B in the driver's internal unit system.
	BoltzmannConstant() float64

	// Temperature returns the target simulation temperature.
	Temperature() float64

	// Timestep returns the MD integration timestep.
	Timestep() float64

	// Step returns the current simulation step number.
	Step() int64

	// ReplicaIndex returns this process's 0-based replica index and the
	// total replica count for multiple-walker runs (1, 1 if single-walker).
	ReplicaIndex() (index, total int)

	// OutputStream opens (creating parent directories as needed) a writer
	// for the named output file, relative to the driver's output prefix.
	OutputStream(name string) (io.WriteCloser, error)

	// Rename atomically renames a file the driver manages (used for the
	// `.tmp`-then-rename state-file write protocol, spec.md §4.7).
	Rename(oldPath, newPath string) error

	// Remove deletes a file the driver manages.
	Remove(path string) error
}
