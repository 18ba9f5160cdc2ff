// Package metad implements the core of a metadynamics biasing engine: hill
// deposition, the regular-grid free-energy accumulator, reflection and
// interval boundary handling, and file-based multiple-walker coordination
// (spec.md §1-§2). The MD driver, CV evaluation layer, and TI estimator are
// external collaborators consumed through the proxy and colvar packages.
package metad

import "github.com/sirupsen/logrus"

// Status is a bitmask composed across component calls, mirroring the
// source's convention of `a |= b()` status propagation (spec.md §7)
// instead of Go's usual single-error-value style. It is returned alongside
// an error so callers that only care about success/failure can keep using
// plain `if err != nil`, while callers that need to distinguish "configure
// aborted" from "a peer file hiccuped" can inspect the bits.
type Status uint32

// Status bits, one per error kind named in spec.md §7.
const (
	// StatusOK indicates no error of any kind occurred.
	StatusOK Status = 0

	// StatusInputError flags bad configuration: conflicting keys, a
	// missing required field, an out-of-range CV index, an unsupported
	// CV variant, or a reflection/grid boundary inconsistency. Input
	// errors abort configuration; they are never retried.
	StatusInputError Status = 1 << iota

	// StatusFileError flags an open/read/write/rename failure. During
	// steady-state replica cycling these are logged and retried next
	// cycle (spec.md §5, §7); during setup they abort.
	StatusFileError

	// StatusBugError flags an invariant violation, e.g. project_hills
	// called without a gradient grid. Bug errors are logged and
	// returned but never panic; callers typically abort the simulation.
	StatusBugError
)

// Has reports whether s has all the bits of other set.
func (s Status) Has(other Status) bool { return s&other == other }

// Combine ORs additional status bits into s, the Go equivalent of the
// source's `a |= b()` composition rule.
func (s Status) Combine(other Status) Status { return s | other }

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	out := ""
	if s.Has(StatusInputError) {
		out += "input-error "
	}
	if s.Has(StatusFileError) {
		out += "file-error "
	}
	if s.Has(StatusBugError) {
		out += "bug-error "
	}
	return out
}

// biasError pairs a Status with the underlying error and the bias/replica
// identity it occurred in, so every logged message is prefixed with the
// bias name (and replica id when relevant), as spec.md §7 requires.
type biasError struct {
	status  Status
	bias    string
	replica string
	err     error
}

func (e *biasError) Error() string {
	if e.replica != "" {
		return e.bias + "[" + e.replica + "]: " + e.err.Error()
	}
	return e.bias + ": " + e.err.Error()
}

func (e *biasError) Unwrap() error { return e.err }

func (b *Bias) wrapErr(status Status, err error) error {
	if err == nil {
		return nil
	}
	be := &biasError{status: status, bias: b.Name, replica: b.ReplicaID, err: err}
	entry := logrus.WithField("bias", b.Name)
	if b.ReplicaID != "" {
		entry = entry.WithField("replica", b.ReplicaID)
	}
	switch {
	case status.Has(StatusBugError):
		entry.WithField("status", status.String()).Error(err)
	case status.Has(StatusInputError):
		entry.WithField("status", status.String()).Error(err)
	default:
		entry.WithField("status", status.String()).Warn(err)
	}
	return be
}

func (b *Bias) logWarn(format string, args ...interface{}) {
	entry := logrus.WithField("bias", b.Name)
	if b.ReplicaID != "" {
		entry = entry.WithField("replica", b.ReplicaID)
	}
	entry.Warnf(format, args...)
}
