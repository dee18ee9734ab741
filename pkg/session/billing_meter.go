package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LowBalanceThresholdMinutes is the number of remaining whole minutes below
// which the one-time low-balance signal fires.
const LowBalanceThresholdMinutes = 5

// BillingSnapshot is a point-in-time view of the billing state. Cost is in
// integer token units and only ever moves in whole-minute increments.
type BillingSnapshot struct {
	ElapsedSeconds  int64
	Cost            int64
	StartingBalance int64
	RatePerMinute   int64
	Paused          bool
	Warned          bool
	Terminated      bool
}

// BillingCallbacks are the signals the meter emits from its tick loop.
// Both fields are optional and are invoked outside the meter's lock.
type BillingCallbacks struct {
	// OnLowBalance fires at most once per session, at the first tick where
	// fewer than LowBalanceThresholdMinutes whole minutes remain.
	OnLowBalance func(snapshot BillingSnapshot)

	// OnTerminated fires when the balance can no longer cover the next
	// whole-minute charge. The clock is already stopped and the cost frozen
	// when the callback runs.
	OnTerminated func(snapshot BillingSnapshot)
}

// BillingMeterOptions configures the meter. Zero values select defaults.
type BillingMeterOptions struct {
	// TickInterval is the billing clock resolution. Default: 1 second.
	TickInterval time.Duration
}

// BillingMeter runs the per-second billing clock for the payer side of a call.
// Cost is computed from wall-clock deltas, not tick counts, so a delayed or
// throttled timer never undercharges: cost = ceil(elapsed/60) * ratePerMinute.
//
// The meter is single-use: once stopped or terminated it never runs again and
// FinalCost returns the frozen value. The payee side never runs a meter;
// starting with a non-positive rate records an unmetered session.
type BillingMeter struct {
	mu        sync.Mutex
	logger    *zap.Logger
	callbacks BillingCallbacks
	interval  time.Duration
	now       func() time.Time

	rate    int64
	balance int64

	running    bool
	paused     bool
	stopped    bool
	warned     bool
	terminated bool

	// accumulated holds elapsed time committed before the current anchor;
	// anchor is the instant the clock last started or resumed.
	accumulated time.Duration
	anchor      time.Time
	cost        int64

	ticker *time.Ticker
	done   chan struct{}
}

// NewBillingMeter creates a stopped meter. Start begins the clock.
func NewBillingMeter(logger *zap.Logger, opts BillingMeterOptions) *BillingMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Second
	}
	return &BillingMeter{
		logger:   logger,
		interval: opts.TickInterval,
		now:      time.Now,
	}
}

// SetCallbacks registers the meter's signal sinks. Call before Start.
func (m *BillingMeter) SetCallbacks(callbacks BillingCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = callbacks
}

// Start begins the billing clock at the given per-minute rate and starting
// balance. Idempotent: calling while already running is a no-op, so concurrent
// invocations cannot create duplicate timers. A meter that has been stopped
// stays stopped. A non-positive rate records an unmetered (payee) session and
// never starts the clock.
func (m *BillingMeter) Start(ratePerMinute, startingBalance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.stopped || m.terminated {
		return
	}
	m.rate = ratePerMinute
	m.balance = startingBalance
	if ratePerMinute <= 0 {
		m.logger.Info("billing meter not started for unmetered session")
		return
	}

	m.running = true
	m.anchor = m.now()
	m.ticker = time.NewTicker(m.interval)
	m.done = make(chan struct{})
	go m.run(m.ticker, m.done)

	m.logger.Info("billing meter started",
		zap.Int64("ratePerMinute", ratePerMinute),
		zap.Int64("startingBalance", startingBalance))
}

// Stop halts the clock. The last computed cost is frozen and remains
// retrievable through FinalCost. Safe to call at any time, including after
// a forced termination.
func (m *BillingMeter) Stop() {
	m.mu.Lock()
	if m.running {
		m.running = false
		if !m.paused {
			m.accumulated += m.now().Sub(m.anchor)
		}
		close(m.done)
		m.ticker.Stop()
	}
	m.stopped = true
	cost := m.cost
	m.mu.Unlock()

	m.logger.Info("billing meter stopped", zap.Int64("finalCost", cost))
}

// Pause freezes the clock without resetting elapsed time. No-op when the
// meter is not running or already paused.
func (m *BillingMeter) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return
	}
	m.accumulated += m.now().Sub(m.anchor)
	m.paused = true
	m.ticker.Stop()
	m.logger.Info("billing paused", zap.Duration("elapsed", m.accumulated))
}

// Resume restarts a paused clock. Elapsed time continues from where Pause
// left it, so a pause/resume cycle never double-counts or loses time.
func (m *BillingMeter) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || !m.paused {
		return
	}
	m.anchor = m.now()
	m.paused = false
	m.ticker.Reset(m.interval)
	m.logger.Info("billing resumed", zap.Duration("elapsed", m.accumulated))
}

// RefreshBalance replaces the starting balance with a freshly fetched value,
// typically after a mid-call top-up. The low-balance warning stays issued:
// the flag is monotonic for the lifetime of a session.
func (m *BillingMeter) RefreshBalance(newBalance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated || m.stopped {
		return
	}
	m.balance = newBalance
	m.logger.Info("billing balance refreshed", zap.Int64("balance", newBalance))
}

// FinalCost returns the frozen cost after the meter stopped or terminated.
// Before that it returns the last committed cost.
func (m *BillingMeter) FinalCost() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost
}

// Snapshot returns the current billing state.
func (m *BillingMeter) Snapshot() BillingSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// RemainingTime returns the whole minutes and leftover seconds the current
// balance still affords at the session rate. Unbounded is true for unmetered
// (payee) sessions.
func (m *BillingMeter) RemainingTime() (minutes, seconds int64, unbounded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rate <= 0 {
		return 0, 0, true
	}
	remaining := m.balance - m.cost
	if remaining < 0 {
		remaining = 0
	}
	totalSeconds := remaining * 60 / m.rate
	return totalSeconds / 60, totalSeconds % 60, false
}

// CanAfford reports whether the starting balance covers at least minMinutes
// of call time at the session rate. Always true for unmetered sessions.
func (m *BillingMeter) CanAfford(minMinutes int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rate <= 0 {
		return true
	}
	return m.balance >= minMinutes*m.rate
}

// run is the tick loop. It exits when the meter is stopped or terminates the
// session on its own.
func (m *BillingMeter) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.tick() {
				ticker.Stop()
				return
			}
		}
	}
}

// tick recomputes elapsed time and cost. If the balance cannot cover the
// candidate charge the meter terminates: the cost stays frozen at the last
// committed value and OnTerminated fires. Returns false when the loop should
// exit.
func (m *BillingMeter) tick() bool {
	m.mu.Lock()
	if !m.running || m.paused || m.terminated {
		stop := m.terminated || !m.running
		m.mu.Unlock()
		return !stop
	}

	elapsed := m.accumulated + m.now().Sub(m.anchor)
	elapsedSeconds := int64(elapsed / time.Second)
	candidate := ceilMinutes(elapsedSeconds) * m.rate

	if m.balance-candidate <= 0 {
		m.terminated = true
		m.running = false
		m.accumulated = elapsed
		snapshot := m.snapshotLocked()
		cb := m.callbacks.OnTerminated
		m.mu.Unlock()

		m.logger.Warn("billing terminated: balance exhausted",
			zap.Int64("frozenCost", snapshot.Cost),
			zap.Int64("candidateCost", candidate),
			zap.Int64("balance", snapshot.StartingBalance))
		insufficientFundsTerminations.Inc()
		if cb != nil {
			cb(snapshot)
		}
		return false
	}

	m.cost = candidate

	var warnCb func(BillingSnapshot)
	var warnSnapshot BillingSnapshot
	if !m.warned {
		remainingWholeMinutes := (m.balance - m.cost) / m.rate
		if remainingWholeMinutes < LowBalanceThresholdMinutes {
			m.warned = true
			warnSnapshot = m.snapshotLocked()
			warnCb = m.callbacks.OnLowBalance
		}
	}
	m.mu.Unlock()

	if warnCb != nil {
		m.logger.Warn("low balance",
			zap.Int64("cost", warnSnapshot.Cost),
			zap.Int64("balance", warnSnapshot.StartingBalance))
		warnCb(warnSnapshot)
	}
	return true
}

func (m *BillingMeter) snapshotLocked() BillingSnapshot {
	elapsed := m.accumulated
	if m.running && !m.paused {
		elapsed += m.now().Sub(m.anchor)
	}
	return BillingSnapshot{
		ElapsedSeconds:  int64(elapsed / time.Second),
		Cost:            m.cost,
		StartingBalance: m.balance,
		RatePerMinute:   m.rate,
		Paused:          m.paused,
		Warned:          m.warned,
		Terminated:      m.terminated,
	}
}

// ceilMinutes converts elapsed seconds to billed whole minutes, rounding up.
// A call lasting 61 seconds is billed as 2 minutes.
func ceilMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
