package metad

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/internal/diskcache"
)

// peer is one other walker in a multiple-replicas run (spec.md §4.7). Its
// list file names the current hills/state file pair; its hills file is
// tailed incrementally, and its state file is re-read in full whenever it
// falls out of sync (on discovery, on stream failure, or when the list
// file reports a new state file path). shadow accumulates exactly the
// hills/grids attributed to this peer, so Bias.CalcEnergy/CalcForces can
// sum the local bias with every peer's shadow.
type peer struct {
	id       string
	listPath string

	hillsPath string
	statePath string

	offset       int64
	inSync       bool
	updateStatus int

	shadow *Bias
}

// ReplicaCoordinator implements the file-based multiple-walker protocol
// (spec.md §4.7): a shared registry names every replica's list file; each
// list file in turn names that replica's current hills/state file pair.
// Each cycle tails peer hills files, re-syncs peer state on demand, and
// atomically republishes this replica's own files.
type ReplicaCoordinator struct {
	bias *Bias
	self string

	registryPath   string
	listPath       string // this replica's own list file, set by Setup
	localHillsPath string
	localStatePath string

	peers []*peer

	newBackOff func() backoff.BackOff
	stateCache *diskcache.Cache
}

// registryEntry is one line of the registry file: "<replica_id> <list_file_path>".
type registryEntry struct {
	id, listPath string
}

// NewReplicaCoordinator builds a coordinator for bias, whose own hills and
// state files are published at localHillsPath/localStatePath. Call Setup
// once before LoadRegistry to publish this replica's own list file and
// self-register it; call LoadRegistry to discover peers.
func NewReplicaCoordinator(bias *Bias, registryPath, localHillsPath, localStatePath string) *ReplicaCoordinator {
	rc := &ReplicaCoordinator{
		bias:           bias,
		self:           bias.ReplicaID,
		registryPath:   registryPath,
		localHillsPath: localHillsPath,
		localStatePath: localStatePath,
		newBackOff:     func() backoff.BackOff { return &backoff.StopBackOff{} },
		stateCache:     diskcache.New(decodeBinaryState, 1, 32),
	}
	bias.Replicas = rc
	return rc
}

// Setup implements spec.md §4.7's "Setup" step: build this replica's list
// file path as "{cwd}/<name>.<replica_id>.files.txt", write the list file
// naming its current hills/state files, and append its registry entry if
// one isn't already present.
func (rc *ReplicaCoordinator) Setup() error {
	cwd, err := os.Getwd()
	if err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: %w", err))
	}
	rc.listPath = filepath.Join(cwd, fmt.Sprintf("%s.%s.files.txt", rc.bias.Name, rc.self))

	hillsAbs, err := filepath.Abs(rc.localHillsPath)
	if err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: %w", err))
	}
	stateAbs, err := filepath.Abs(rc.localStatePath)
	if err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: %w", err))
	}

	if err := EnsureDir(rc.listPath); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: %w", err))
	}
	if err := appendRegistryIfMissing(rc.registryPath, rc.self, rc.listPath); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: registry: %w", err))
	}
	if err := writeListFile(rc.listPath, stateAbs, hillsAbs); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.Setup: list file: %w", err))
	}
	return nil
}

// appendRegistryIfMissing appends "<id> <listPath>" to registryPath unless
// id is already registered there.
func appendRegistryIfMissing(registryPath, id, listPath string) error {
	if f, err := os.Open(registryPath); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if e, ok := parseRegistryLine(sc.Text()); ok && e.id == id {
				f.Close()
				return nil
			}
		}
		err := sc.Err()
		f.Close()
		if err != nil {
			return err
		}
	}
	if err := EnsureDir(registryPath); err != nil {
		return err
	}
	f, err := os.OpenFile(registryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", id, listPath)
	return err
}

// writeListFile writes the two-line per-replica list file spec.md §4.7
// describes: "stateFile <path>" then "hillsFile <path>".
func writeListFile(listPath, statePath, hillsPath string) error {
	f, err := os.Create(listPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "stateFile %s\nhillsFile %s\n", statePath, hillsPath)
	return err
}

// LoadRegistry (re-)reads the registry file and adds any peer not already
// tracked. Existing peers keep their offset/inSync state so a growing
// registry doesn't force a full re-sync of walkers already known.
func (rc *ReplicaCoordinator) LoadRegistry() error {
	f, err := os.Open(rc.registryPath)
	if err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.LoadRegistry: %w", err))
	}
	defer f.Close()

	known := make(map[string]bool, len(rc.peers))
	for _, p := range rc.peers {
		known[p.id] = true
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, ok := parseRegistryLine(sc.Text())
		if !ok || e.id == rc.self || known[e.id] {
			continue
		}
		rc.peers = append(rc.peers, &peer{
			id:       e.id,
			listPath: e.listPath,
			shadow:   newShadowBias(rc.bias, e.id),
		})
	}
	return rc.bias.wrapErr(StatusFileError, sc.Err())
}

func parseRegistryLine(line string) (registryEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return registryEntry{}, false
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return registryEntry{}, false
	}
	return registryEntry{id: fields[0], listPath: fields[1]}, true
}

// newShadowBias builds a Bias that mirrors only one peer's hills/grids,
// sharing the parent's CV list and grid configuration but never depositing
// on its own.
func newShadowBias(parent *Bias, peerID string) *Bias {
	s := &Bias{
		Name:      parent.Name,
		ReplicaID: peerID,
		Vars:      parent.Vars,
		MD:        parent.MD,
		cfg:       parent.cfg,
		hills:     newHillList(),
		sigmas:    parent.sigmas,
		useGrids:  parent.useGrids,
	}
	if parent.useGrids {
		eg, _ := NewScalarGrid(parent.Vars)
		sample := make([]colvar.Value, len(parent.Vars))
		for i, v := range parent.Vars {
			sample[i] = colvar.FromComponents(v.Kind(), make([]float64, v.Kind().Size()))
		}
		gg, _ := NewGradientGrid(parent.Vars, sample)
		s.energyGrid = eg
		s.gradientGrid = gg
	}
	return s
}

// Sync runs one replica-update cycle (spec.md §4.7): for every peer,
// re-read its list file (marking it out of sync if its state file path
// changed); for every peer not in sync, re-read its state file in full;
// for every peer, tail its hills file from the remembered offset; finally
// republish this replica's own hills/state files atomically.
func (rc *ReplicaCoordinator) Sync() error {
	for _, p := range rc.peers {
		rc.refreshPeerFiles(p)
		if !p.inSync {
			rc.resyncState(p)
		}
		rc.tailHills(p)
	}
	return rc.publishLocal()
}

// refreshPeerFiles re-reads p's list file for its current stateFile/
// hillsFile paths. If the state file path differs from the last time this
// list file was read, the peer is marked out of sync and its hills offset
// reset to 0 (spec.md §4.7: "if a peer's stateFile changes versus the
// previous read, mark state_in_sync=false and reset hills_file_pos=0").
func (rc *ReplicaCoordinator) refreshPeerFiles(p *peer) {
	f, err := os.Open(p.listPath)
	if err != nil {
		logrus.WithField("bias", rc.bias.Name).WithField("peer", p.id).Warnf("reading list file: %v", err)
		return
	}
	defer f.Close()

	var stateFile, hillsFile string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "stateFile":
			stateFile = fields[1]
		case "hillsFile":
			hillsFile = fields[1]
		}
	}
	if err := sc.Err(); err != nil {
		logrus.WithField("bias", rc.bias.Name).WithField("peer", p.id).Warnf("parsing list file: %v", err)
		return
	}

	if stateFile != "" && stateFile != p.statePath {
		p.statePath = stateFile
		p.inSync = false
		p.offset = 0
	}
	if hillsFile != "" {
		p.hillsPath = hillsFile
	}
}

// resyncState re-reads p's state file in full, decoding through the
// diskcache so an unchanged file across cycles skips the gob decode
// entirely (internal/diskcache).
func (rc *ReplicaCoordinator) resyncState(p *peer) {
	if p.statePath == "" {
		return
	}
	err := rc.retry(func() error {
		fp, err := diskcache.FileFingerprint(p.statePath)
		if err != nil {
			return err
		}
		raw, err := ioutil.ReadFile(p.statePath)
		if err != nil {
			return err
		}
		decoded, err := rc.stateCache.Decode(context.Background(), fp, raw)
		if err != nil {
			return err
		}
		return p.shadow.applyBinaryState(decoded.(binaryState))
	})
	if err != nil {
		p.updateStatus++
		logrus.WithField("bias", rc.bias.Name).WithField("peer", p.id).
			WithField("updateStatus", p.updateStatus).Warn(err)
		return
	}
	p.inSync = true
	p.updateStatus = 0
}

// tailHills appends any hill lines written to p's hills file since
// p.offset. On stream failure the read position resets to 0 and the peer
// is marked out of sync, matching the intent of the source's open-after-
// seek-failure handling (spec.md Design Note §9: "preserve the intent: on
// stream failure, restart at offset 0 and mark out-of-sync").
func (rc *ReplicaCoordinator) tailHills(p *peer) {
	if p.hillsPath == "" {
		return
	}
	f, err := os.Open(p.hillsPath)
	if err != nil {
		p.offset = 0
		p.inSync = false
		return
	}
	defer f.Close()

	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		p.offset = 0
		p.inSync = false
		return
	}

	sc := bufio.NewScanner(f)
	var read int64
	for sc.Scan() {
		line := sc.Text()
		read += int64(len(line)) + 1
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 || fields[0] != "hill" {
			continue
		}
		h, err := parseHillLine(fields)
		if err != nil {
			continue
		}
		h.ReplicaID = p.id
		handle := p.shadow.hills.Add(h)
		if p.shadow.useGrids && p.shadow.nearBoundary(h.Centers) {
			p.shadow.offGrid = append(p.shadow.offGrid, handle.node)
		}
	}
	if err := sc.Err(); err != nil {
		p.offset = 0
		p.inSync = false
		return
	}
	p.offset += read

	if p.shadow.useGrids {
		var fresh []*Hill
		p.shadow.eachUnprojected(func(h *Hill) { fresh = append(fresh, h) })
		if len(fresh) > 0 {
			if err := projectHills(p.shadow.Vars, fresh, p.shadow.energyGrid, p.shadow.gradientGrid, nil); err == nil {
				p.shadow.newHillsBegin = p.shadow.hills.TailNode()
				if !p.shadow.cfg.KeepHills {
					p.shadow.hills.EraseBefore(p.shadow.newHillsBegin)
				}
			}
		}
	}
}

// publishLocal flushes the local hills file (append mode) and atomically
// rewrites the local state file via a temp-then-rename swap (spec.md
// §4.7, "Local write every cycle"). The hill records appended are the
// bias's hills-trajectory buffer (Bias.FlushTrajectory), which is filled
// only when WriteHillsTrajectory is set and is emptied by this flush.
func (rc *ReplicaCoordinator) publishLocal() error {
	if err := rc.retry(func() error {
		f, err := os.OpenFile(rc.localHillsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		return rc.bias.FlushTrajectory(f)
	}); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.publishLocal: hills: %w", err))
	}

	tmp := rc.localStatePath + ".tmp"
	if err := rc.retry(func() error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := rc.bias.WriteStateBinary(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.publishLocal: state tmp: %w", err))
	}
	if err := os.Rename(tmp, rc.localStatePath); err != nil {
		return rc.bias.wrapErr(StatusFileError, fmt.Errorf("metad.ReplicaCoordinator.publishLocal: rename: %w", err))
	}
	return nil
}

// retry runs fn through backoff.RetryNotify with the coordinator's
// backoff policy. The default policy (StopBackOff) makes one attempt, so
// a failure is returned at once and the operation is tried again on the
// next sync cycle instead of sleeping inside this one.
func (rc *ReplicaCoordinator) retry(fn func() error) error {
	return backoff.RetryNotify(fn, rc.newBackOff(), func(err error, d time.Duration) {
		logrus.WithField("bias", rc.bias.Name).Warnf("%v: retrying in %v", err, d)
	})
}

// EnsureDir creates the parent directory of path if missing, used before
// the first publishLocal call for a fresh run.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
