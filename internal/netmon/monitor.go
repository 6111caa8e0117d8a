// Package netmon observes platform connectivity, debounces flapping and
// classifies connection quality for the rest of the agent.
package netmon

import (
	"context"
	"log"
	"sync"
	"time"
)

// Quality is a coarse connection quality tier. It is a UI hint only;
// correctness decisions use Online exclusively.
type Quality string

const (
	QualityGood     Quality = "good"
	QualityModerate Quality = "moderate"
	QualityNone     Quality = "none"
)

// Probe is the platform connectivity snapshot shape the monitor consumes
type Probe struct {
	Connected         bool
	InternetReachable bool
	ConnectionType    string // wifi, cellular, none
}

// NetworkState is the monitor's published view of connectivity.
// Online means connected AND internet-reachable; either alone is offline.
type NetworkState struct {
	Online         bool      `json:"online"`
	ConnectionType string    `json:"connectionType"`
	Quality        Quality   `json:"quality"`
	ChangedAt      time.Time `json:"changedAt"`
}

// Prober abstracts the platform connectivity API
type Prober interface {
	Probe(ctx context.Context) (Probe, error)
}

// ChangeNotifier is implemented by probers that can push change events.
// The returned function releases the platform subscription.
type ChangeNotifier interface {
	OnChange(fn func(Probe)) (unsubscribe func())
}

// Monitor tracks the last known NetworkState and notifies subscribers of
// debounced transitions. Rapid flips inside the debounce window collapse
// into at most one notification.
type Monitor struct {
	mu sync.Mutex

	prober        Prober
	state         NetworkState
	initialized   bool
	debounce      time.Duration
	probeInterval time.Duration
	now           func() time.Time

	subscribers map[int]func(NetworkState)
	nextSubID   int

	pendingState *NetworkState
	pendingTimer *time.Timer

	platformUnsub func()
	stopProbeLoop chan struct{}
	probeLoopOn   bool
}

// NewMonitor creates a monitor over the given prober
func NewMonitor(prober Prober) *Monitor {
	return &Monitor{
		prober:        prober,
		debounce:      2 * time.Second,
		probeInterval: 30 * time.Second,
		now:           time.Now,
		subscribers:   make(map[int]func(NetworkState)),
	}
}

// SetDebounceWindow overrides the transition debounce window
func (m *Monitor) SetDebounceWindow(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounce = d
}

// SetProbeInterval overrides the periodic re-probe interval
func (m *Monitor) SetProbeInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeInterval = d
}

// Initialize performs one synchronous probe, subscribes to platform
// change notifications when available, and starts the periodic re-probe
// loop. Returns the initial NetworkState.
func (m *Monitor) Initialize(ctx context.Context) (NetworkState, error) {
	probe, err := m.prober.Probe(ctx)
	if err != nil {
		// An unreachable platform API reads as offline, not as a fault.
		log.Printf("⚠️ Connectivity probe failed, assuming offline: %v", err)
		probe = Probe{ConnectionType: "none"}
	}

	m.mu.Lock()
	m.state = stateFromProbe(probe, m.now())
	m.initialized = true
	initial := m.state

	if !m.probeLoopOn {
		m.probeLoopOn = true
		m.stopProbeLoop = make(chan struct{})
		go m.probeLoop()
	}
	m.mu.Unlock()

	if notifier, ok := m.prober.(ChangeNotifier); ok && m.platformUnsub == nil {
		m.platformUnsub = notifier.OnChange(func(p Probe) {
			m.observe(stateFromProbe(p, m.now()))
		})
	}

	return initial, nil
}

// GetStatus returns the last known state without blocking
func (m *Monitor) GetStatus() NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports whether the device is currently online
func (m *Monitor) IsOnline() bool {
	return m.GetStatus().Online
}

// IsOffline reports whether the device is currently offline
func (m *Monitor) IsOffline() bool {
	return !m.IsOnline()
}

// ConnectionQuality maps the current connection type to a quality tier
func (m *Monitor) ConnectionQuality() Quality {
	return m.GetStatus().Quality
}

// Refresh forces a fresh probe and returns the updated state. The result
// bypasses debouncing: an explicit refresh is already an intentional,
// settled read.
func (m *Monitor) Refresh(ctx context.Context) (NetworkState, error) {
	probe, err := m.prober.Probe(ctx)
	if err != nil {
		probe = Probe{ConnectionType: "none"}
	}
	next := stateFromProbe(probe, m.now())

	m.mu.Lock()
	changed := next.Online != m.state.Online || next.ConnectionType != m.state.ConnectionType
	m.clearPendingLocked()
	m.state = next
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(next)
		}
	}
	return next, err
}

// Subscribe registers a listener for debounced transitions and returns
// an unsubscribe function.
func (m *Monitor) Subscribe(fn func(NetworkState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Destroy releases the platform subscription and stops the probe loop
func (m *Monitor) Destroy() {
	m.mu.Lock()
	m.clearPendingLocked()
	if m.probeLoopOn {
		m.probeLoopOn = false
		close(m.stopProbeLoop)
	}
	unsub := m.platformUnsub
	m.platformUnsub = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// observe feeds a candidate state through the debounce window
func (m *Monitor) observe(next NetworkState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next.Online == m.state.Online && next.ConnectionType == m.state.ConnectionType {
		// Flipped back to the current state before the window elapsed.
		m.clearPendingLocked()
		return
	}

	if m.pendingState != nil &&
		m.pendingState.Online == next.Online &&
		m.pendingState.ConnectionType == next.ConnectionType {
		return // already scheduled
	}

	m.clearPendingLocked()
	pending := next
	m.pendingState = &pending
	m.pendingTimer = time.AfterFunc(m.debounce, func() {
		m.commitPending(pending)
	})
}

// commitPending publishes a debounced transition
func (m *Monitor) commitPending(next NetworkState) {
	m.mu.Lock()
	if m.pendingState == nil || m.pendingState.Online != next.Online ||
		m.pendingState.ConnectionType != next.ConnectionType {
		m.mu.Unlock()
		return
	}
	m.pendingState = nil
	m.pendingTimer = nil
	m.state = next
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	log.Printf("📶 Network transition: online=%v type=%s quality=%s",
		next.Online, next.ConnectionType, next.Quality)
	for _, fn := range subs {
		fn(next)
	}
}

func (m *Monitor) clearPendingLocked() {
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
	}
	m.pendingTimer = nil
	m.pendingState = nil
}

func (m *Monitor) snapshotSubscribersLocked() []func(NetworkState) {
	subs := make([]func(NetworkState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

// probeLoop periodically re-probes so the monitor converges even when
// the platform pushes no change events.
func (m *Monitor) probeLoop() {
	m.mu.Lock()
	interval := m.probeInterval
	stop := m.stopProbeLoop
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			probe, err := m.prober.Probe(ctx)
			cancel()
			if err != nil {
				probe = Probe{ConnectionType: "none"}
			}
			m.observe(stateFromProbe(probe, m.now()))
		case <-stop:
			return
		}
	}
}

// stateFromProbe derives the published state from a raw platform probe
func stateFromProbe(p Probe, at time.Time) NetworkState {
	online := p.Connected && p.InternetReachable
	connType := p.ConnectionType
	if !online {
		if connType == "" {
			connType = "none"
		}
	}
	return NetworkState{
		Online:         online,
		ConnectionType: connType,
		Quality:        qualityForType(online, connType),
		ChangedAt:      at,
	}
}

// qualityForType maps connection type to a coarse tier:
// wifi -> good, cellular -> moderate, anything else or offline -> none.
func qualityForType(online bool, connType string) Quality {
	if !online {
		return QualityNone
	}
	switch connType {
	case "wifi", "ethernet":
		return QualityGood
	case "cellular":
		return QualityModerate
	default:
		return QualityNone
	}
}
