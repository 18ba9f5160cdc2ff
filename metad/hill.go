package metad

import (
	"math"

	"github.com/spatialmodel/colvars/colvar"
)

// Hill is an immutable record of one deposited Gaussian (spec.md §3.1).
// Nothing mutates after construction except CachedValue, an evaluation
// scratch space the analytic summation path uses to avoid recomputing a
// hill's contribution twice within the same step.
type Hill struct {
	Step        int64
	Weight      float64
	Centers     []colvar.Value
	Sigmas      []float64
	ReplicaID   string
	ScaleFactor float64

	CachedValue float64
}

// hillNode is one link in the append-stable hill sequence (Design Note §9,
// "hill container"): a deque of nodes rather than a slice, so that handles
// taken out before an append remain valid after it (only bulk erasure or
// single-identity deletion invalidate a handle, matching spec.md §3.2).
type hillNode struct {
	hill       Hill
	generation uint64
	prev, next *hillNode
}

// HillHandle identifies one hill in a hillList across appends. It becomes
// stale (Valid returns false) once the node it names is deleted.
type HillHandle struct {
	node       *hillNode
	generation uint64
}

// Valid reports whether h still names a live hill.
func (h HillHandle) Valid() bool {
	return h.node != nil && h.node.generation == h.generation
}

// hillList is the ordered, append-heavy, rarely-bulk-erased sequence of
// deposited hills (spec.md §3.1-§3.2, §5).
type hillList struct {
	head, tail *hillNode
	length     int
	nextGen    uint64
}

func newHillList() *hillList { return &hillList{} }

// Len returns the number of live hills.
func (l *hillList) Len() int { return l.length }

// Add appends h and returns a handle to the new node (spec.md §4.2).
func (l *hillList) Add(h Hill) HillHandle {
	l.nextGen++
	n := &hillNode{hill: h, generation: l.nextGen}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.length++
	return HillHandle{node: n, generation: n.generation}
}

// Delete removes the hill named by h, if still valid (spec.md §4.2).
func (l *hillList) Delete(h HillHandle) bool {
	if !h.Valid() {
		return false
	}
	n := h.node
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.generation = 0 // invalidate any remaining handles to this node
	l.length--
	return true
}

// EraseBefore removes every hill from the head of the list up to (but not
// including) stop, used to bulk-clear projected hills when keepHills is
// false (spec.md §3.2, §4.6). A nil stop erases the whole list.
func (l *hillList) EraseBefore(stop *hillNode) {
	n := l.head
	for n != stop {
		next := n.next
		n.generation = 0
		n = next
	}
	l.head = stop
	if stop != nil {
		stop.prev = nil
	} else {
		l.tail = nil
	}
	l.length = 0
	for n := l.head; n != nil; n = n.next {
		l.length++
	}
}

// Each calls f for every live hill in deposition order.
func (l *hillList) Each(f func(*Hill)) {
	for n := l.head; n != nil; n = n.next {
		f(&n.hill)
	}
}

// EachFrom calls f for every live hill starting at (and including) from,
// or the whole list if from is the zero handle.
func (l *hillList) EachFrom(from HillHandle, f func(*Hill)) {
	start := l.head
	if from.node != nil {
		start = from.node
	}
	for n := start; n != nil; n = n.next {
		f(&n.hill)
	}
}

// TailNode returns the current tail node, used to mark "new_hills_begin"
// ranges (spec.md §4.2, §4.6).
func (l *hillList) TailNode() *hillNode { return l.tail }

// sq computes Σ dist2(x[i], center[i]) / sigma[i]² using each CV's own
// metric (spec.md §4.2).
func sq(vars []colvar.Variable, x []colvar.Value, h *Hill) float64 {
	total := 0.
	for i, v := range vars {
		d2 := v.Dist2(x[i], h.Centers[i])
		total += d2 / (h.Sigmas[i] * h.Sigmas[i])
	}
	return total
}

// gaussianCutoff is the exponent magnitude beyond which a hill's
// contribution is treated as exactly zero (spec.md §4.2: "sq > 23
// (≈ log 10⁶)").
const gaussianCutoff = 23.0

// hillValue evaluates exp(-sq/2), or 0 past the cutoff, and caches the
// result on the hill.
func hillValue(vars []colvar.Variable, x []colvar.Value, h *Hill) float64 {
	s := sq(vars, x, h)
	if s > gaussianCutoff {
		h.CachedValue = 0
		return 0
	}
	v := math.Exp(-s / 2)
	h.CachedValue = v
	return v
}
