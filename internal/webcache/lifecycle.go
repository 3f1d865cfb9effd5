package webcache

import (
	"context"
	"fmt"
	"sync"

	"todokeep/internal/utils"
)

// GenerationState tracks a generation through its lifecycle.
type GenerationState int

const (
	StateUninstalled GenerationState = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateCurrent
)

// String returns the string representation of the generation state.
func (s GenerationState) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Control message types understood by HandleMessage.
const (
	MsgSkipWaiting = "skip-waiting"
	MsgGetVersion  = "get-version"
)

// DefaultPrecachePaths is the fixed shell set installed into every
// generation: home, the offline shell, the top-level section pages and the
// manifest.
var DefaultPrecachePaths = []string{
	"/",
	OfflineShellPath,
	"/today",
	"/tags",
	"/stats",
	"/manifest.webmanifest",
}

// Manager owns cache-region lifecycle for one generation: it installs the
// precache set, activates the generation (sweeping stale regions) and
// claims open clients by pointing the gateway at the new primary region.
type Manager struct {
	store    *RegionStore
	origin   *OriginClient
	gateway  *Gateway
	version  string
	primary  string
	precache []string
	log      *utils.Logger

	mu            sync.Mutex
	state         GenerationState
	skipRequested bool
	onStateChange func(GenerationState)
}

// NewManager creates a lifecycle manager for the given generation version.
// A nil precache list selects DefaultPrecachePaths.
func NewManager(store *RegionStore, origin *OriginClient, gateway *Gateway, version string, precache []string) *Manager {
	if len(precache) == 0 {
		precache = DefaultPrecachePaths
	}
	return &Manager{
		store:    store,
		origin:   origin,
		gateway:  gateway,
		version:  version,
		primary:  PrecacheRegion(version),
		precache: precache,
		log:      utils.GetLogger(),
		state:    StateUninstalled,
	}
}

// Version returns the generation's identifying name.
func (m *Manager) Version() string {
	return m.version
}

// PrimaryRegion returns the generation's precache region name.
func (m *Manager) PrimaryRegion() string {
	return m.primary
}

// State returns the current lifecycle state.
func (m *Manager) State() GenerationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Waiting reports whether the generation is installed but not yet active.
func (m *Manager) Waiting() bool {
	return m.State() == StateWaiting
}

// OnStateChange registers a hook invoked after every state transition.
// The hook runs outside the manager lock.
func (m *Manager) OnStateChange(fn func(GenerationState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// setState transitions and notifies. Must be called without the lock held.
func (m *Manager) setState(s GenerationState) {
	m.mu.Lock()
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Install populates the generation's primary region with the precache set
// as a single all-or-nothing batch. Any fetch failure, including a non-2xx
// shell page, aborts the install; nothing is stored and the generation
// never reaches waiting. The manager does not self-retry: re-triggering a
// failed install is the host's responsibility.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninstalled {
		state := m.state
		m.mu.Unlock()
		m.log.Debug("install skipped, generation %s already %s", m.version, state)
		return nil
	}
	m.state = StateInstalling
	m.mu.Unlock()

	snaps := make(map[string]Snapshot, len(m.precache))
	for _, p := range m.precache {
		snap, err := m.origin.FetchSnapshot(ctx, p)
		if err == nil && !cacheable(snap) {
			err = fmt.Errorf("unexpected status %d", snap.Status)
		}
		if err != nil {
			m.setState(StateUninstalled)
			m.log.Error("install of generation %s aborted: precache %s: %v", m.version, p, err)
			return fmt.Errorf("precache %s: %w", p, err)
		}
		snap.Category = "precache"
		snaps["GET "+p] = snap
	}

	m.store.Open(m.primary)
	m.store.PutAll(m.primary, snaps)
	m.log.Info("generation %s installed (%d precached resources)", m.version, len(snaps))

	m.mu.Lock()
	skip := m.skipRequested
	m.state = StateWaiting
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(StateWaiting)
	}

	if skip {
		return m.Activate(ctx)
	}
	return nil
}

// Activate makes this generation current: it deletes every region that is
// neither the new primary region nor one of the fixed runtime regions, then
// claims open clients so their future requests hit the new generation.
// Deletion failures are logged and skipped; the next activation sweep
// retries them. Activate is idempotent.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateCurrent {
		m.mu.Unlock()
		return nil
	}
	m.state = StateActivating
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(StateActivating)
	}

	for _, name := range m.store.Names() {
		if name == m.primary || runtimeRegions[name] {
			continue
		}
		if err := m.store.DeleteRegion(name); err != nil {
			m.log.Warn("stale region %s not deleted: %v", name, err)
		}
	}

	// Claim open clients: already-connected views are intercepted by the
	// new generation from their next request on.
	m.gateway.SetGeneration(m.primary)

	m.setState(StateCurrent)
	m.log.Info("generation %s activated", m.version)
	return nil
}

// SkipWaiting activates a waiting generation immediately. If the install is
// still running, activation happens as soon as it completes.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	if state == StateInstalling {
		m.skipRequested = true
	}
	m.mu.Unlock()

	switch state {
	case StateWaiting:
		return m.Activate(ctx)
	default:
		return nil
	}
}

// HandleMessage processes one control message and returns the reply body.
func (m *Manager) HandleMessage(ctx context.Context, msg string) (string, error) {
	switch msg {
	case MsgSkipWaiting:
		return "", m.SkipWaiting(ctx)
	case MsgGetVersion:
		return m.version, nil
	default:
		return "", fmt.Errorf("unknown control message: %s", msg)
	}
}
