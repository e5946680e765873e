package audioflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Poller defaults.
const (
	// DefaultPollInterval is the reconciliation cadence.
	DefaultPollInterval = 5 * time.Second

	// DefaultPassTimeout bounds a single pass.
	DefaultPassTimeout = 30 * time.Second
)

// Passer runs one reconciliation pass. *Reconciler implements it.
type Passer interface {
	Reconcile(ctx context.Context) (PassResult, error)
}

// PassOutcome is reported to the poller's observer after every pass.
type PassOutcome struct {
	Result   PassResult
	Err      error
	Duration time.Duration

	// ConsecutiveFailures counts failed passes in a row, this one included.
	ConsecutiveFailures int
}

// PollStats are cumulative poller counters.
type PollStats struct {
	Passes              uint64    `json:"passes"`
	Failures            uint64    `json:"failures"`
	SkippedTicks        uint64    `json:"skipped_ticks"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// PollerConfig holds configuration for a Poller.
type PollerConfig struct {
	DeviceID string

	// Interval between ticks. Default: DefaultPollInterval.
	Interval time.Duration

	// PassTimeout bounds each pass. Default: DefaultPassTimeout.
	PassTimeout time.Duration

	Passer Passer

	// OnPass is optional and runs on the pass goroutine after every pass.
	OnPass func(PassOutcome)

	Logger Logger
}

// Poller drives periodic reconciliation for one device.
//
// It runs one pass eagerly on Start and one per tick afterwards. A tick
// that arrives while a pass is still running is skipped and counted, so
// passes never overlap. Stop ends scheduling and waits for an in-flight
// pass to finish; the pass is not aborted.
type Poller struct {
	logSupport

	deviceID    string
	interval    time.Duration
	passTimeout time.Duration
	passer      Passer
	onPass      func(PassOutcome)

	inFlight atomic.Bool

	stats   PollStats
	statsMu sync.RWMutex

	// Lifecycle. stopped is guarded by lifeMu so no pass can be added to
	// wg once Stop has started waiting.
	lifeMu    sync.Mutex
	stopped   bool
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPoller creates a Poller. Call Start to begin polling.
func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		deviceID:    cfg.DeviceID,
		interval:    cfg.Interval,
		passTimeout: cfg.PassTimeout,
		passer:      cfg.Passer,
		onPass:      cfg.OnPass,
		done:        make(chan struct{}),
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.passTimeout <= 0 {
		p.passTimeout = DefaultPassTimeout
	}
	p.SetLogger(cfg.Logger)
	return p
}

// Start runs the eager pass and begins ticking. Subsequent calls are no-ops.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		p.lifeMu.Lock()
		defer p.lifeMu.Unlock()
		if p.stopped {
			return
		}
		p.wg.Add(1)
		go p.loop()
	})
}

// Stop ends scheduling and waits for any in-flight pass.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.lifeMu.Lock()
		p.stopped = true
		p.lifeMu.Unlock()

		close(p.done)
		p.wg.Wait()
		p.logDebug("poller stopped", "device_id", p.deviceID)
	})
}

// Trigger starts a pass now unless one is already running or the poller
// is stopped. It reports whether a pass was started.
func (p *Poller) Trigger() bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.stopped {
		return false
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.statsMu.Lock()
		p.stats.SkippedTicks++
		p.statsMu.Unlock()
		p.logDebug("previous pass still running, skipping", "device_id", p.deviceID)
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.runPass()
	}()
	return true
}

// InFlight reports whether a pass is running.
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

// Stats returns a copy of the poller counters.
func (p *Poller) Stats() PollStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

func (p *Poller) loop() {
	defer p.wg.Done()

	p.Trigger()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.Trigger()
		}
	}
}

// runPass executes one pass with its own deadline. Passes outlive Stop,
// so the context derives from Background rather than a poller context.
func (p *Poller) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), p.passTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.passer.Reconcile(ctx)
	elapsed := time.Since(start)

	p.statsMu.Lock()
	p.stats.Passes++
	if err != nil {
		p.stats.Failures++
		p.stats.ConsecutiveFailures++
		p.stats.LastError = err.Error()
	} else {
		p.stats.ConsecutiveFailures = 0
		p.stats.LastSuccess = start
		p.stats.LastError = ""
	}
	consecutive := p.stats.ConsecutiveFailures
	p.statsMu.Unlock()

	if err != nil {
		p.logWarn("poll failed",
			"device_id", p.deviceID,
			"consecutive_failures", consecutive,
			"error", err)
	} else if len(result.Events) > 0 {
		p.logDebug("poll complete",
			"device_id", p.deviceID,
			"events", len(result.Events),
			"duration", elapsed)
	}

	if p.onPass != nil {
		p.onPass(PassOutcome{
			Result:              result,
			Err:                 err,
			Duration:            elapsed,
			ConsecutiveFailures: consecutive,
		})
	}
}
