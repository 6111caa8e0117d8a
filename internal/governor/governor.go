// Package governor tracks how long the device has been disconnected and
// classifies the severity of the outage, independent of whether any
// operations are queued.
package governor

import (
	"log"
	"sync"
	"time"

	"github.com/cleanops/fieldsync/internal/netmon"
)

// Severity is the offline-duration tier. Crossing into exceeded does not
// force a sync or discard data; it only raises severity for the UI to
// act on.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityExceeded Severity = "exceeded"
)

// Thresholds. Boundaries are inclusive on the lower bound: exactly 36h
// offline is already warning.
const (
	WarningThreshold   = 36 * time.Hour
	CriticalThreshold  = 44 * time.Hour
	MaxOfflineDuration = 48 * time.Hour

	defaultEvalInterval = 60 * time.Second
)

// Governor watches network transitions and exposes the elapsed offline
// duration plus its severity tier. The evaluation ticker runs only while
// offline and is torn down the moment connectivity returns.
type Governor struct {
	mu sync.Mutex

	now          func() time.Time
	evalInterval time.Duration

	offlineSince *time.Time
	lastSeverity Severity

	onChange func(Severity, time.Duration)

	unsubscribe func()
	stopTicker  chan struct{}
	tickerOn    bool
}

// New creates a governor; call Start to attach it to a monitor
func New() *Governor {
	return &Governor{
		now:          time.Now,
		evalInterval: defaultEvalInterval,
		lastSeverity: SeverityNormal,
	}
}

// SetEvalInterval overrides the offline re-evaluation interval
func (g *Governor) SetEvalInterval(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evalInterval = d
}

// OnSeverityChange registers a callback fired whenever the tier changes
func (g *Governor) OnSeverityChange(fn func(Severity, time.Duration)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Start subscribes to the monitor and seeds state from its current view
func (g *Governor) Start(monitor *netmon.Monitor) {
	g.unsubscribe = monitor.Subscribe(func(state netmon.NetworkState) {
		g.handleTransition(state.Online)
	})
	g.handleTransition(monitor.IsOnline())
}

// Stop detaches from the monitor and stops the evaluation ticker
func (g *Governor) Stop() {
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	g.mu.Lock()
	g.stopTickerLocked()
	g.mu.Unlock()
}

// OfflineSince returns when the current outage began, nil while online
func (g *Governor) OfflineSince() *time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offlineSince == nil {
		return nil
	}
	t := *g.offlineSince
	return &t
}

// OfflineDuration returns elapsed time since going offline, 0 if online
func (g *Governor) OfflineDuration() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offlineDurationLocked()
}

// Classify returns the severity tier for the current offline duration
func (g *Governor) Classify() Severity {
	return ClassifyDuration(g.OfflineDuration())
}

// ClassifyDuration maps an offline duration to its severity tier
func ClassifyDuration(d time.Duration) Severity {
	switch {
	case d >= MaxOfflineDuration:
		return SeverityExceeded
	case d >= CriticalThreshold:
		return SeverityCritical
	case d >= WarningThreshold:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// handleTransition records online/offline edges
func (g *Governor) handleTransition(online bool) {
	g.mu.Lock()
	if online {
		if g.offlineSince != nil {
			log.Printf("✅ Back online after %v offline", g.offlineDurationLocked().Round(time.Second))
		}
		g.offlineSince = nil
		g.lastSeverity = SeverityNormal
		g.stopTickerLocked()
		g.mu.Unlock()
		return
	}

	if g.offlineSince == nil {
		now := g.now()
		g.offlineSince = &now
		log.Printf("📴 Went offline at %s", now.Format(time.RFC3339))
	}
	if !g.tickerOn {
		g.tickerOn = true
		g.stopTicker = make(chan struct{})
		go g.evalLoop(g.stopTicker, g.evalInterval)
	}
	g.mu.Unlock()

	g.evaluate()
}

// evalLoop re-evaluates severity on a fixed interval while offline
func (g *Governor) evalLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evaluate()
		case <-stop:
			return
		}
	}
}

// evaluate recomputes severity and fires the change callback on edges
func (g *Governor) evaluate() {
	g.mu.Lock()
	duration := g.offlineDurationLocked()
	severity := ClassifyDuration(duration)
	changed := severity != g.lastSeverity
	g.lastSeverity = severity
	fn := g.onChange
	g.mu.Unlock()

	if changed {
		log.Printf("⏳ Offline severity now %s (offline for %v)", severity, duration.Round(time.Minute))
		if fn != nil {
			fn(severity, duration)
		}
	}
}

func (g *Governor) offlineDurationLocked() time.Duration {
	if g.offlineSince == nil {
		return 0
	}
	return g.now().Sub(*g.offlineSince)
}

func (g *Governor) stopTickerLocked() {
	if g.tickerOn {
		g.tickerOn = false
		close(g.stopTicker)
	}
}
