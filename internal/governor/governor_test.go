package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDurationBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want Severity
	}{
		{0, SeverityNormal},
		{35*time.Hour + 59*time.Minute, SeverityNormal},
		{36 * time.Hour, SeverityWarning},
		{43*time.Hour + 59*time.Minute, SeverityWarning},
		{44 * time.Hour, SeverityCritical},
		{47*time.Hour + 59*time.Minute, SeverityCritical},
		{48 * time.Hour, SeverityExceeded},
		{72 * time.Hour, SeverityExceeded},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyDuration(tc.d), "duration %v", tc.d)
	}
}

func TestOfflineDurationTracksClock(t *testing.T) {
	clock := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	g := New()
	g.now = func() time.Time { return clock }
	defer g.Stop()

	assert.Nil(t, g.OfflineSince())
	assert.Zero(t, g.OfflineDuration())
	assert.Equal(t, SeverityNormal, g.Classify())

	g.handleTransition(false)
	require.NotNil(t, g.OfflineSince())

	clock = clock.Add(37 * time.Hour)
	assert.Equal(t, 37*time.Hour, g.OfflineDuration())
	assert.Equal(t, SeverityWarning, g.Classify())

	g.handleTransition(true)
	assert.Nil(t, g.OfflineSince())
	assert.Zero(t, g.OfflineDuration())
	assert.Equal(t, SeverityNormal, g.Classify())
}

func TestRepeatedOfflineEdgesKeepOriginalStart(t *testing.T) {
	clock := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	start := clock
	g := New()
	g.now = func() time.Time { return clock }
	defer g.Stop()

	g.handleTransition(false)
	clock = clock.Add(2 * time.Hour)
	g.handleTransition(false)

	since := g.OfflineSince()
	require.NotNil(t, since)
	assert.True(t, since.Equal(start), "outage start must not move on repeated offline signals")
}

func TestSeverityChangeCallbackFiresOnEdges(t *testing.T) {
	clock := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	g := New()
	g.now = func() time.Time { return clock }
	defer g.Stop()

	var mu sync.Mutex
	var tiers []Severity
	g.OnSeverityChange(func(s Severity, _ time.Duration) {
		mu.Lock()
		tiers = append(tiers, s)
		mu.Unlock()
	})

	g.handleTransition(false)

	clock = clock.Add(36 * time.Hour)
	g.evaluate()
	g.evaluate() // same tier, no extra callback

	clock = clock.Add(8 * time.Hour)
	g.evaluate()

	clock = clock.Add(4 * time.Hour)
	g.evaluate()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Severity{SeverityWarning, SeverityCritical, SeverityExceeded}, tiers)
}
