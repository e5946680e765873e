package audioflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePasser counts passes and can hold them open.
type fakePasser struct {
	passes  atomic.Int32
	running atomic.Int32
	maxSeen atomic.Int32

	mu      sync.Mutex
	release chan struct{}
	err     error
}

func (f *fakePasser) Reconcile(ctx context.Context) (PassResult, error) {
	f.passes.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	release := f.release
	err := f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return PassResult{}, ctx.Err()
		}
	}
	return PassResult{}, err
}

func TestPoller_EagerPassAndTicks(t *testing.T) {
	passer := &fakePasser{}
	p := NewPoller(PollerConfig{DeviceID: "AF1", Interval: 20 * time.Millisecond, Passer: passer})

	p.Start()
	defer p.Stop()

	require.True(t, waitFor(func() bool { return passer.passes.Load() >= 1 }), "eager pass did not run")
	require.True(t, waitFor(func() bool { return passer.passes.Load() >= 3 }), "ticks did not run passes")
	assert.GreaterOrEqual(t, p.Stats().Passes, uint64(1))
}

func TestPoller_SkipsTicksWhilePassRuns(t *testing.T) {
	release := make(chan struct{})
	passer := &fakePasser{release: release}
	p := NewPoller(PollerConfig{DeviceID: "AF1", Interval: 10 * time.Millisecond, Passer: passer})

	p.Start()
	require.True(t, waitFor(p.InFlight))

	// Several ticks elapse while the first pass is held open.
	require.True(t, waitFor(func() bool { return p.Stats().SkippedTicks >= 3 }))
	assert.EqualValues(t, 1, passer.passes.Load())
	assert.False(t, p.Trigger(), "Trigger must not start a second pass")

	close(release)
	p.Stop()

	assert.EqualValues(t, 1, passer.maxSeen.Load(), "passes overlapped")
}

func TestPoller_StopWaitsForInFlightPass(t *testing.T) {
	release := make(chan struct{})
	passer := &fakePasser{release: release}
	p := NewPoller(PollerConfig{DeviceID: "AF1", Interval: time.Hour, Passer: passer})

	p.Start()
	require.True(t, waitFor(p.InFlight))

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	assert.False(t, p.InFlight())
	assert.EqualValues(t, 1, p.Stats().Passes, "the in-flight pass completes rather than aborting")
	assert.Zero(t, p.Stats().Failures)
}

func TestPoller_NoPassesAfterStop(t *testing.T) {
	passer := &fakePasser{}
	p := NewPoller(PollerConfig{DeviceID: "AF1", Interval: 5 * time.Millisecond, Passer: passer})

	p.Start()
	require.True(t, waitFor(func() bool { return passer.passes.Load() >= 1 }))
	p.Stop()

	after := passer.passes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, passer.passes.Load())
	assert.False(t, p.Trigger())

	// Idempotent.
	p.Stop()
}

func TestPoller_StopBeforeStart(t *testing.T) {
	passer := &fakePasser{}
	p := NewPoller(PollerConfig{DeviceID: "AF1", Passer: passer})

	p.Stop()
	p.Start()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, passer.passes.Load())
}

func TestPoller_FailureStatsAndOutcome(t *testing.T) {
	passer := &fakePasser{err: errors.New("unreachable")}

	var mu sync.Mutex
	var outcomes []PassOutcome
	p := NewPoller(PollerConfig{
		DeviceID: "AF1",
		Interval: time.Hour,
		Passer:   passer,
		OnPass: func(o PassOutcome) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
	})
	p.Start()
	defer p.Stop()

	require.True(t, waitFor(func() bool { return p.Stats().Passes == 1 && !p.InFlight() }))
	require.True(t, p.Trigger())
	require.True(t, waitFor(func() bool { return p.Stats().Passes == 2 && !p.InFlight() }))

	stats := p.Stats()
	assert.EqualValues(t, 2, stats.Failures)
	assert.Equal(t, 2, stats.ConsecutiveFailures)
	assert.Equal(t, "unreachable", stats.LastError)

	passer.mu.Lock()
	passer.err = nil
	passer.mu.Unlock()
	require.True(t, p.Trigger())
	require.True(t, waitFor(func() bool { return p.Stats().Passes == 3 && !p.InFlight() }))

	stats = p.Stats()
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Empty(t, stats.LastError)
	assert.False(t, stats.LastSuccess.IsZero())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 3)
	assert.Equal(t, 1, outcomes[0].ConsecutiveFailures)
	assert.Equal(t, 2, outcomes[1].ConsecutiveFailures)
	assert.NoError(t, outcomes[2].Err)
}

func TestPoller_PassTimeout(t *testing.T) {
	passer := &fakePasser{release: make(chan struct{})}
	p := NewPoller(PollerConfig{
		DeviceID:    "AF1",
		Interval:    time.Hour,
		PassTimeout: 20 * time.Millisecond,
		Passer:      passer,
	})
	p.Start()
	defer p.Stop()

	require.True(t, waitFor(func() bool { return p.Stats().Failures == 1 }))
	assert.Contains(t, p.Stats().LastError, "deadline")
}
