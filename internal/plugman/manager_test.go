package plugman

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"plugsync/internal/config"
	"plugsync/internal/inventory"
	"plugsync/internal/sshchannel"
)

// mockChannel implements sshchannel.Channel for workflow tests.
type mockChannel struct {
	mu       sync.Mutex
	status   sshchannel.Status
	files    map[string]int64 // remote path -> size
	commands []string
	uploads  []string

	shouldFail   map[string]bool
	sha256Output string
	keepOnDelete bool          // DeleteFile reports success but leaves the file
	copyGate     chan struct{} // when set, CopyToDevice blocks until closed or ctx done

	onExecute func(cmd string)
	onCopy    func(fraction float64)
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		status:       sshchannel.StatusConnected,
		files:        map[string]int64{},
		shouldFail:   map[string]bool{},
		sha256Output: "0000000000000000",
	}
}

func (m *mockChannel) CheckConnection()          {}
func (m *mockChannel) Status() sshchannel.Status { return m.status }

func (m *mockChannel) Execute(cmd string) (string, int, error) {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	hook := m.onExecute
	m.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}

	switch {
	case strings.Contains(cmd, "sha256sum"):
		return m.sha256Output + "\n", 0, nil
	case strings.Contains(cmd, "mkdir") && m.shouldFail["mkdir"]:
		return "mkdir: read-only file system", 1, nil
	case cmd == "sync" && m.shouldFail["sync"]:
		return "sync: i/o error", 1, nil
	case strings.Contains(cmd, "mount") && m.shouldFail["mount"]:
		return "mount: permission denied", 1, nil
	}
	return "", 0, nil
}

func (m *mockChannel) ListDirectory(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var listing []string
	for p := range m.files {
		listing = append(listing, p)
	}
	return listing, nil
}

func (m *mockChannel) CopyToDevice(ctx context.Context, localPath, remotePath string, onProgress sshchannel.ProgressFunc) error {
	if m.copyGate != nil {
		select {
		case <-m.copyGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.shouldFail["copy"] {
		return fmt.Errorf("mock transfer failure")
	}

	for _, f := range []float64{0.0, 0.5, 1.0} {
		if onProgress != nil {
			onProgress(f, "Transferring")
		}
		if m.onCopy != nil {
			m.onCopy(f)
		}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[remotePath] = info.Size()
	m.uploads = append(m.uploads, remotePath)
	m.mu.Unlock()
	return nil
}

func (m *mockChannel) DeleteFile(path string) error {
	if m.shouldFail["delete"] {
		return fmt.Errorf("mock delete failure")
	}
	if !m.keepOnDelete {
		m.mu.Lock()
		delete(m.files, path)
		m.mu.Unlock()
	}
	return nil
}

func (m *mockChannel) StatSize(path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size, ok := m.files[path]; ok {
		return size, nil
	}
	return -1, fmt.Errorf("no such file: %s", path)
}

func (m *mockChannel) FileExists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *mockChannel) Close() error { return nil }

func (m *mockChannel) commandLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

func testConfig(t *testing.T, localDir string) *config.Config {
	t.Helper()
	return &config.Config{
		Username:   "root",
		Password:   "secret",
		Host:       "127.0.0.1",
		Port:       "22",
		LocalPath:  localDir,
		RemotePath: "/tmp/plugins",
		Suffix:     ".so",
		Device: config.Device{
			RemountWritable: true,
			ServiceStop:     "/etc/init.d/S99host stop",
			ServiceStart:    "/etc/init.d/S99host start",
			CleanupPaths:    []string{"/tmp/plugin_state"},
		},
	}
}

func writeArtifact(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitComplete polls until the running workflow finalizes.
func waitComplete(t *testing.T, m *Manager) OpState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state := m.OpState()
		if state.Complete && state.Kind == OpNone {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation did not complete; state: %+v", m.OpState())
	return OpState{}
}

func TestRefreshReconcilesBothSides(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)
	writeArtifact(t, dir, "radio.so", 4096)

	ch := newMockChannel()
	ch.files["/tmp/plugins/radio.so"] = 4096
	ch.files["/tmp/plugins/weather.so"] = 1024

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	state := m.OpState()
	if !state.Complete || !state.Success || state.Kind != OpNone {
		t.Errorf("unexpected state after refresh: %+v", state)
	}
	if state.Message != "Found 3 plugins" {
		t.Errorf("unexpected message: %q", state.Message)
	}

	want := map[string]inventory.Classification{
		"clock":   inventory.LocalOnly,
		"radio":   inventory.Synced,
		"weather": inventory.DeviceOnly,
	}
	entities := m.Inventory()
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	for _, e := range entities {
		if e.Classification() != want[e.Name] {
			t.Errorf("%s: classification = %v, want %v", e.Name, e.Classification(), want[e.Name])
		}
	}
}

func TestInstallHappyPath(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatalf("install rejected: %v", err)
	}

	state := waitComplete(t, m)
	if !state.Success {
		t.Fatalf("install failed: %s", state.Message)
	}
	if state.Progress != 1.0 {
		t.Errorf("terminal progress = %v, want 1.0", state.Progress)
	}
	if state.Message != "Installed clock" {
		t.Errorf("unexpected message: %q", state.Message)
	}

	if len(ch.uploads) != 1 || ch.uploads[0] != "/tmp/plugins/clock.so" {
		t.Errorf("unexpected uploads: %v", ch.uploads)
	}

	// Install never self-updates the cached inventory.
	if e, ok := m.FindByName("clock"); !ok || e.RemotePath != "" {
		t.Errorf("inventory should be stale before refresh: %+v", e)
	}
	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if e, _ := m.FindByName("clock"); e.Classification() != inventory.Synced {
		t.Errorf("after refresh clock should be synced: %+v", e)
	}
}

func TestInstallProgressCheckpoints(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	var mu sync.Mutex
	var samples []float64
	sample := func() {
		mu.Lock()
		samples = append(samples, m.OpState().Progress)
		mu.Unlock()
	}
	ch.onExecute = func(cmd string) {
		if strings.Contains(cmd, "mkdir") || cmd == "sync" {
			sample()
		}
	}
	ch.onCopy = func(float64) { sample() }

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}
	waitComplete(t, m)

	mu.Lock()
	defer mu.Unlock()
	if len(samples) < 4 {
		t.Fatalf("expected at least 4 progress samples, got %v", samples)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i] < samples[i-1] {
			t.Fatalf("progress regressed: %v", samples)
		}
	}
	// mkdir step pins 0.2, transfer stays within [0.2, 0.9], sync pins 0.95.
	if samples[0] != 0.2 {
		t.Errorf("progress at mkdir = %v, want 0.2", samples[0])
	}
	for _, s := range samples[1 : len(samples)-1] {
		if s < 0.2 || s > 0.9 {
			t.Errorf("transfer progress %v outside [0.2, 0.9]", s)
		}
	}
	if last := samples[len(samples)-1]; last != 0.95 {
		t.Errorf("progress at sync = %v, want 0.95", last)
	}
}

func TestInstallSkipsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "clock.so", 2048)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	ch := newMockChannel()
	ch.sha256Output = fmt.Sprintf("%x", sha256.Sum256(data))
	ch.files["/tmp/plugins/clock.so"] = 2048

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}

	state := waitComplete(t, m)
	if !state.Success {
		t.Fatalf("install failed: %s", state.Message)
	}
	if len(ch.uploads) != 0 {
		t.Errorf("identical content should skip the transfer, got uploads %v", ch.uploads)
	}
}

func TestInstallTransferFailure(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	ch.shouldFail["copy"] = true

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}

	state := waitComplete(t, m)
	if state.Success {
		t.Fatal("install should have failed")
	}
	if !strings.Contains(state.Message, "Transfer failed") {
		t.Errorf("unexpected failure message: %q", state.Message)
	}

	// The busy flag cleared, so a retry is accepted.
	ch.shouldFail["copy"] = false
	if err := m.Install("clock"); err != nil {
		t.Errorf("retry after failure rejected: %v", err)
	}
	waitComplete(t, m)
}

func TestInstallBestEffortRemountDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	ch.shouldFail["mount"] = true

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}

	state := waitComplete(t, m)
	if !state.Success {
		t.Errorf("remount failure must not abort the install: %s", state.Message)
	}
}

func TestUninstallHappyPath(t *testing.T) {
	dir := t.TempDir()

	ch := newMockChannel()
	ch.files["/tmp/plugins/weather.so"] = 1024

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Uninstall("weather"); err != nil {
		t.Fatalf("uninstall rejected: %v", err)
	}

	state := waitComplete(t, m)
	if !state.Success {
		t.Fatalf("uninstall failed: %s", state.Message)
	}
	if state.Message != "Uninstalled weather" {
		t.Errorf("unexpected message: %q", state.Message)
	}

	log := strings.Join(ch.commandLog(), "\n")
	for _, want := range []string{
		"/etc/init.d/S99host stop",
		"rm -rf /tmp/plugin_state/weather*",
		"sync",
		"/etc/init.d/S99host start",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("expected command %q in log:\n%s", want, log)
		}
	}
}

func TestUninstallVerificationIsAuthoritative(t *testing.T) {
	dir := t.TempDir()

	ch := newMockChannel()
	ch.files["/tmp/plugins/weather.so"] = 1024
	ch.keepOnDelete = true // rm reports success but the file survives

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Uninstall("weather"); err != nil {
		t.Fatal(err)
	}

	state := waitComplete(t, m)
	if state.Success {
		t.Fatal("uninstall must fail when the file is still present")
	}
	if !strings.Contains(state.Message, "still present") {
		t.Errorf("unexpected failure message: %q", state.Message)
	}
}

func TestBusyRejectionLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)
	writeArtifact(t, dir, "radio.so", 4096)

	ch := newMockChannel()
	ch.copyGate = make(chan struct{})

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}

	// Wait until the workflow reaches the gated transfer.
	deadline := time.Now().Add(time.Second)
	for m.OpState().Progress < 0.2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := m.Install("radio"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := m.Uninstall("clock"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := m.Refresh(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from refresh, got %v", err)
	}

	state := m.OpState()
	if state.Kind != OpInstalling || state.Target != "clock" {
		t.Errorf("busy rejection disturbed the running operation: %+v", state)
	}

	close(ch.copyGate)
	waitComplete(t, m)
}

func TestGuardRejections(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	ch.files["/tmp/plugins/weather.so"] = 1024

	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}

	if err := m.Uninstall("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.Install("weather"); !errors.Is(err, ErrNotLocal) {
		t.Errorf("expected ErrNotLocal, got %v", err)
	}
	if err := m.Uninstall("clock"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("expected ErrNotInstalled, got %v", err)
	}

	// Rejections never touch the operation state.
	if state := m.OpState(); state.Kind != OpNone || state.Target != "" {
		t.Errorf("guard rejection touched state: %+v", state)
	}

	ch.status = sshchannel.StatusDisconnected
	if err := m.Install("clock"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestShutdownAbortsInFlightTransfer(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	ch.copyGate = make(chan struct{}) // never closed; only ctx can end the copy

	m := NewManager(testConfig(t, dir), ch)

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for m.OpState().Progress < 0.2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m.Shutdown()

	state := m.OpState()
	if state.Kind != OpNone {
		t.Errorf("shutdown left the busy flag stuck: %+v", state)
	}
	if !state.Complete || state.Success {
		t.Errorf("aborted operation should finalize as failure: %+v", state)
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *fakeRecorder) Record(kind, plugin string, success bool, message string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf("%s %s %v", kind, plugin, success))
}

func TestRecorderReceivesFinishedOperations(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clock.so", 2048)

	ch := newMockChannel()
	m := NewManager(testConfig(t, dir), ch)
	defer m.Shutdown()

	rec := &fakeRecorder{}
	m.AttachRecorder(rec)

	if err := m.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := m.Install("clock"); err != nil {
		t.Fatal(err)
	}
	waitComplete(t, m)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 || rec.entries[0] != "install clock true" {
		t.Errorf("unexpected journal entries: %v", rec.entries)
	}
}
