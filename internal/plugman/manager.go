package plugman

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"plugsync/internal/config"
	"plugsync/internal/events"
	"plugsync/internal/inventory"
	"plugsync/internal/sshchannel"
)

// OpKind identifies the workflow currently holding the busy flag.
type OpKind int

const (
	OpNone OpKind = iota
	OpInstalling
	OpUninstalling
	OpRefreshing
)

func (k OpKind) String() string {
	switch k {
	case OpInstalling:
		return "install"
	case OpUninstalling:
		return "uninstall"
	case OpRefreshing:
		return "refresh"
	default:
		return "none"
	}
}

// OpState is a snapshot of the in-flight (or last finished) operation.
// Progress never decreases within one operation; Success is meaningful only
// once Complete is true.
type OpState struct {
	Kind     OpKind
	Target   string
	Progress float64
	Message  string
	Complete bool
	Success  bool
}

// Recorder persists finished operations. Implemented by history.Journal;
// kept as an interface here so tests and journal-less runs stay trivial.
type Recorder interface {
	Record(kind, plugin string, success bool, message string, elapsed time.Duration)
}

// Manager is the single coordinator owning the channel, the reconciled
// inventory and the operation state. All snapshots it hands out are value
// copies; the manager itself is the only writer.
type Manager struct {
	cfg      *config.Config
	ch       sshchannel.Channel
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entities []inventory.Entity
	op       OpState
	started  time.Time
}

func NewManager(cfg *config.Config, ch sshchannel.Channel) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AttachRecorder wires an operation journal. Optional.
func (m *Manager) AttachRecorder(r Recorder) {
	m.recorder = r
}

// Shutdown aborts any in-flight workflow, waits for it to finalize and
// closes the channel. The busy flag is never left stuck.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	if err := m.ch.Close(); err != nil {
		log.Printf("plugman: closing channel: %v", err)
	}
}

// Inventory returns a copy of the reconciled entity list.
func (m *Manager) Inventory() []inventory.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inventory.Entity, len(m.entities))
	copy(out, m.entities)
	return out
}

// FindByName looks up an entity snapshot by name.
func (m *Manager) FindByName(name string) (inventory.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.Name == name {
			return e, true
		}
	}
	return inventory.Entity{}, false
}

// OpState returns a snapshot of the operation state.
func (m *Manager) OpState() OpState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.op
}

// ChannelStatus reports the channel's cached connectivity.
func (m *Manager) ChannelStatus() sshchannel.Status {
	return m.ch.Status()
}

// IsBusy reports whether a workflow currently holds the busy flag.
func (m *Manager) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.op.Kind != OpNone
}

// Refresh scans both sides and swaps in a freshly reconciled inventory.
// It runs synchronously under the Refreshing busy flag; the only failure
// mode is partial data when the device is unreachable.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	if m.op.Kind != OpNone {
		m.mu.Unlock()
		return ErrBusy
	}
	m.op = OpState{Kind: OpRefreshing, Message: "Scanning local plugins..."}
	m.started = time.Now()
	m.mu.Unlock()

	m.ch.CheckConnection()

	local := inventory.ScanLocal(m.cfg.LocalPath, m.cfg.Suffix)

	m.setProgress(0.5, "Scanning device plugins...")

	remote := inventory.ScanRemote(m.ch, m.cfg.RemotePath, m.cfg.Suffix)

	// Swap the full set atomically only now that both scans are done; a
	// failed remote scan leaves the local view intact rather than partial.
	entities := inventory.Reconcile(local, remote)

	m.mu.Lock()
	m.entities = entities
	m.mu.Unlock()

	m.finish(true, fmt.Sprintf("Found %d plugins", len(entities)))
	events.GlobalBus.Publish(events.EventInventoryRefreshed, len(entities))
	return nil
}

// Install starts the install workflow for name on the background worker.
// A nil return means the operation was accepted; poll OpState for the
// outcome. Guard rejections never touch the operation state.
func (m *Manager) Install(name string) error {
	m.mu.Lock()
	if m.op.Kind != OpNone {
		m.mu.Unlock()
		return ErrBusy
	}
	entity, ok := m.findLocked(name)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if entity.LocalPath == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLocal, name)
	}
	if m.ch.Status() != sshchannel.StatusConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}

	m.op = OpState{
		Kind:    OpInstalling,
		Target:  name,
		Message: fmt.Sprintf("Installing %s...", name),
	}
	m.started = time.Now()
	m.mu.Unlock()

	events.GlobalBus.Publish(events.EventOperationStarted, OpInstalling.String(), name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runInstall(entity)
	}()
	return nil
}

// Uninstall starts the uninstall workflow for name on the background
// worker. Same acceptance semantics as Install.
func (m *Manager) Uninstall(name string) error {
	m.mu.Lock()
	if m.op.Kind != OpNone {
		m.mu.Unlock()
		return ErrBusy
	}
	entity, ok := m.findLocked(name)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if entity.RemotePath == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if m.ch.Status() != sshchannel.StatusConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}

	m.op = OpState{
		Kind:    OpUninstalling,
		Target:  name,
		Message: fmt.Sprintf("Uninstalling %s...", name),
	}
	m.started = time.Now()
	m.mu.Unlock()

	events.GlobalBus.Publish(events.EventOperationStarted, OpUninstalling.String(), name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runUninstall(entity)
	}()
	return nil
}

func (m *Manager) findLocked(name string) (inventory.Entity, bool) {
	for _, e := range m.entities {
		if e.Name == name {
			return e, true
		}
	}
	return inventory.Entity{}, false
}

// setProgress advances the progress fraction, clamped so it never moves
// backwards within one operation.
func (m *Manager) setProgress(p float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p > m.op.Progress {
		m.op.Progress = p
	}
	if message != "" {
		m.op.Message = message
	}
}

// finish finalizes the running operation: Complete flips exactly once, the
// busy flag clears on every path, and the journal gets a row.
func (m *Manager) finish(success bool, message string) {
	m.mu.Lock()
	kind := m.op.Kind
	target := m.op.Target
	elapsed := time.Since(m.started)
	m.op.Kind = OpNone
	m.op.Complete = true
	m.op.Success = success
	m.op.Message = message
	if success {
		m.op.Progress = 1.0
	}
	m.mu.Unlock()

	if kind != OpRefreshing {
		events.GlobalBus.Publish(events.EventOperationFinished, kind.String(), target, success)
		if m.recorder != nil {
			m.recorder.Record(kind.String(), target, success, message, elapsed)
		}
	}
	if !success {
		log.Printf("plugman: %s %s failed: %s", kind, target, message)
	}
}
