package metad

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/colvars/colvar"
	"github.com/spatialmodel/colvars/proxy"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func newReplicaTestBias(t *testing.T, replicaID string) *Bias {
	t.Helper()
	vars := []colvar.Variable{colvar.NewScalarVariable("d", 0.1, -5, 5)}
	md := proxy.NewReferenceMD(t.TempDir())
	b, err := NewBias("m", vars, md, Config{
		HillWeight: 1, NewHillFrequency: 1, HillWidth: 2, WriteHillsTrajectory: true,
	})
	if err != nil {
		t.Fatalf("NewBias: %v", err)
	}
	b.ReplicaID = replicaID
	return b
}

// TestReplicaSetupSelfRegisters implements spec.md §4.7's "Setup" step: the
// coordinator writes a list file naming its own hills/state files and
// appends itself to the shared registry.
func TestReplicaSetupSelfRegisters(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	b := newReplicaTestBias(t, "A")
	registry := filepath.Join(dir, "registry.txt")
	rc := NewReplicaCoordinator(b, registry, filepath.Join(dir, "a.hills"), filepath.Join(dir, "a.state"))
	if err := rc.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	wantListPath := filepath.Join(dir, "m.A.files.txt")
	if rc.listPath != wantListPath {
		t.Errorf("listPath: got %q, want %q", rc.listPath, wantListPath)
	}

	regBytes, err := os.ReadFile(registry)
	if err != nil {
		t.Fatalf("reading registry: %v", err)
	}
	regLine := strings.TrimSpace(string(regBytes))
	wantRegLine := "A " + wantListPath
	if regLine != wantRegLine {
		t.Errorf("registry contents: got %q, want %q", regLine, wantRegLine)
	}

	listBytes, err := os.ReadFile(wantListPath)
	if err != nil {
		t.Fatalf("reading list file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(listBytes)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "stateFile ") || !strings.HasPrefix(lines[1], "hillsFile ") {
		t.Fatalf("list file contents: got %q", string(listBytes))
	}

	// Setup must be idempotent: calling it again must not duplicate the
	// registry entry.
	if err := rc.Setup(); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	regBytes, err = os.ReadFile(registry)
	if err != nil {
		t.Fatalf("reading registry after second Setup: %v", err)
	}
	if got := strings.Count(string(regBytes), "A "); got != 1 {
		t.Errorf("registry after second Setup: want exactly one entry for A, got %d (%q)", got, string(regBytes))
	}
}

// TestLoadRegistryDiscoversPeer implements spec.md §4.7's registry format:
// "<replica_id> <list_file_path>" lines, excluding the coordinator's own id.
func TestLoadRegistryDiscoversPeer(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	registry := filepath.Join(dir, "registry.txt")
	bA := newReplicaTestBias(t, "A")
	rcA := NewReplicaCoordinator(bA, registry, filepath.Join(dir, "a.hills"), filepath.Join(dir, "a.state"))
	if err := rcA.Setup(); err != nil {
		t.Fatalf("rcA.Setup: %v", err)
	}

	bB := newReplicaTestBias(t, "B")
	rcB := NewReplicaCoordinator(bB, registry, filepath.Join(dir, "b.hills"), filepath.Join(dir, "b.state"))
	if err := rcB.Setup(); err != nil {
		t.Fatalf("rcB.Setup: %v", err)
	}
	if err := rcB.LoadRegistry(); err != nil {
		t.Fatalf("rcB.LoadRegistry: %v", err)
	}

	if len(rcB.peers) != 1 {
		t.Fatalf("rcB.peers: got %d, want 1", len(rcB.peers))
	}
	if rcB.peers[0].id != "A" {
		t.Errorf("discovered peer id: got %q, want %q", rcB.peers[0].id, "A")
	}
	if rcB.peers[0].shadow == nil {
		t.Error("discovered peer has no shadow bias")
	}
}

// TestRefreshPeerFilesDetectsStateChange implements spec.md §4.7's
// stateFile-change rule: when a peer's list file reports a new stateFile
// path, the peer is marked out of sync and its hills offset resets to 0.
func TestRefreshPeerFilesDetectsStateChange(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	b := newReplicaTestBias(t, "self")
	rc := NewReplicaCoordinator(b, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "self.hills"), filepath.Join(dir, "self.state"))

	listPath := filepath.Join(dir, "peer.files.txt")
	if err := writeListFile(listPath, filepath.Join(dir, "peer.state.v1"), filepath.Join(dir, "peer.hills")); err != nil {
		t.Fatalf("writeListFile: %v", err)
	}

	p := &peer{id: "peer", listPath: listPath, shadow: newShadowBias(b, "peer")}
	rc.refreshPeerFiles(p)
	if p.statePath != filepath.Join(dir, "peer.state.v1") {
		t.Fatalf("statePath after first refresh: got %q", p.statePath)
	}
	if p.inSync {
		t.Error("a freshly-discovered peer must not be marked in sync by refreshPeerFiles alone")
	}

	// Simulate a completed resync, then a new state file path appearing.
	p.inSync = true
	p.offset = 42

	if err := writeListFile(listPath, filepath.Join(dir, "peer.state.v2"), filepath.Join(dir, "peer.hills")); err != nil {
		t.Fatalf("writeListFile: %v", err)
	}
	rc.refreshPeerFiles(p)

	if p.statePath != filepath.Join(dir, "peer.state.v2") {
		t.Errorf("statePath after state-file change: got %q, want peer.state.v2", p.statePath)
	}
	if p.inSync {
		t.Error("inSync must reset to false when the peer's stateFile path changes")
	}
	if p.offset != 0 {
		t.Errorf("offset must reset to 0 when the peer's stateFile path changes, got %d", p.offset)
	}
}

func TestRefreshPeerFilesStableStateKeepsSync(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	b := newReplicaTestBias(t, "self")
	rc := NewReplicaCoordinator(b, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "self.hills"), filepath.Join(dir, "self.state"))

	listPath := filepath.Join(dir, "peer.files.txt")
	statePath := filepath.Join(dir, "peer.state")
	if err := writeListFile(listPath, statePath, filepath.Join(dir, "peer.hills")); err != nil {
		t.Fatalf("writeListFile: %v", err)
	}

	p := &peer{id: "peer", listPath: listPath, statePath: statePath, inSync: true, offset: 17, shadow: newShadowBias(b, "peer")}
	rc.refreshPeerFiles(p)

	if !p.inSync {
		t.Error("inSync should remain true when the peer's stateFile path is unchanged")
	}
	if p.offset != 17 {
		t.Errorf("offset should remain untouched when the peer's stateFile path is unchanged, got %d", p.offset)
	}
}

// TestTwoWalkerHillImportScenario implements spec.md §8's two-walker
// exchange scenario: walker A deposits a hill at step 100; once walker B's
// shadow has tailed A's hills file, B's combined energy at the deposition
// center matches A's own.
func TestTwoWalkerHillImportScenario(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	biasA := newReplicaTestBias(t, "A")
	hillsPathA := filepath.Join(dir, "a.hills")

	biasA.MD.(*proxy.ReferenceMD).StepNum = 100
	if _, err := biasA.Step([]colvar.Value{colvar.NewScalar(0.3)}); err != nil {
		t.Fatalf("biasA.Step: %v", err)
	}

	f, err := os.Create(hillsPathA)
	if err != nil {
		t.Fatalf("creating hills file: %v", err)
	}
	if err := biasA.FlushTrajectory(f); err != nil {
		t.Fatalf("FlushTrajectory: %v", err)
	}
	f.Close()

	biasB := newReplicaTestBias(t, "B")
	rcB := NewReplicaCoordinator(biasB, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "b.hills"), filepath.Join(dir, "b.state"))
	p := &peer{id: "A", hillsPath: hillsPathA, shadow: newShadowBias(biasB, "A")}
	rcB.tailHills(p)

	x := []colvar.Value{colvar.NewScalar(0.3)}
	wantEnergy, err := biasA.CalcEnergy(x)
	if err != nil {
		t.Fatalf("biasA.CalcEnergy: %v", err)
	}
	gotEnergy, err := p.shadow.calcEnergySelf(x)
	if err != nil {
		t.Fatalf("shadow.calcEnergySelf: %v", err)
	}
	if math.Abs(gotEnergy-wantEnergy) > 1e-9 {
		t.Errorf("imported energy: got %g, want %g (identical to walker A's own)", gotEnergy, wantEnergy)
	}
	if p.offset == 0 {
		t.Error("tailHills should have advanced the read offset past the imported hill")
	}
}

// TestResyncStateAppliesFullSnapshot exercises the out-of-sync full-state
// reread path (spec.md §4.7): once applied, the peer's shadow carries the
// same hills as the snapshot and is marked back in sync.
func TestResyncStateAppliesFullSnapshot(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	biasA := newReplicaTestBias(t, "A")
	biasA.MD.(*proxy.ReferenceMD).StepNum = 50
	if _, err := biasA.Step([]colvar.Value{colvar.NewScalar(0.4)}); err != nil {
		t.Fatalf("biasA.Step: %v", err)
	}

	statePath := filepath.Join(dir, "a.state")
	f, err := os.Create(statePath)
	if err != nil {
		t.Fatalf("creating state file: %v", err)
	}
	if err := biasA.WriteStateBinary(f); err != nil {
		t.Fatalf("WriteStateBinary: %v", err)
	}
	f.Close()

	biasB := newReplicaTestBias(t, "B")
	rcB := NewReplicaCoordinator(biasB, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "b.hills"), filepath.Join(dir, "b.state"))
	p := &peer{id: "A", statePath: statePath, shadow: newShadowBias(biasB, "A")}
	rcB.resyncState(p)

	if !p.inSync {
		t.Fatal("resyncState: peer should be marked in sync after a successful decode")
	}
	x := []colvar.Value{colvar.NewScalar(0.4)}
	wantEnergy, err := biasA.CalcEnergy(x)
	if err != nil {
		t.Fatalf("biasA.CalcEnergy: %v", err)
	}
	gotEnergy, err := p.shadow.calcEnergySelf(x)
	if err != nil {
		t.Fatalf("shadow.calcEnergySelf: %v", err)
	}
	if math.Abs(gotEnergy-wantEnergy) > 1e-9 {
		t.Errorf("resynced shadow energy: got %g, want %g", gotEnergy, wantEnergy)
	}
}

func TestResyncStateNoOpWithoutStatePath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	b := newReplicaTestBias(t, "self")
	rc := NewReplicaCoordinator(b, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "self.hills"), filepath.Join(dir, "self.state"))
	p := &peer{id: "peer", shadow: newShadowBias(b, "peer")}
	rc.resyncState(p)
	if p.inSync {
		t.Error("resyncState with no statePath should not mark the peer in sync")
	}
}

func TestTailHillsNoOpWithoutHillsPath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	b := newReplicaTestBias(t, "self")
	rc := NewReplicaCoordinator(b, filepath.Join(dir, "registry.txt"), filepath.Join(dir, "self.hills"), filepath.Join(dir, "self.state"))
	p := &peer{id: "peer", shadow: newShadowBias(b, "peer")}
	rc.tailHills(p)
	if p.shadow.hills.Len() != 0 {
		t.Errorf("tailHills with no hillsPath: want no hills imported, got %d", p.shadow.hills.Len())
	}
}

func TestParseRegistryLineRejectsMalformed(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
	}{
		{"A /tmp/a.files.txt", true},
		{"", false},
		{"# a comment", false},
		{"A", false},
		{"A /tmp/a.files.txt extra", false},
	}
	for _, c := range cases {
		_, ok := parseRegistryLine(c.line)
		if ok != c.ok {
			t.Errorf("parseRegistryLine(%q): got ok=%v, want %v", c.line, ok, c.ok)
		}
	}
}

func TestWriteListFileFormat(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "list.txt")
	if err := writeListFile(listPath, "/x/state", "/x/hills"); err != nil {
		t.Fatalf("writeListFile: %v", err)
	}
	f, err := os.Open(listPath)
	if err != nil {
		t.Fatalf("opening list file: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 || lines[0] != "stateFile /x/state" || lines[1] != "hillsFile /x/hills" {
		t.Errorf("writeListFile output: got %v", lines)
	}
}
