package runtime

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDwellMinSteps and DefaultCooldownSteps are the Coordinator's
// anti-thrashing defaults (spec.md §6).
const (
	DefaultDwellMinSteps = 2
	DefaultCooldownSteps = 2
)

const maxSwitchHistory = 10

// SwitchHistoryEntry records one committed topology transition.
type SwitchHistoryEntry struct {
	From      Topology
	To        Topology
	Epoch     Epoch
	ElapsedMs int64
}

// CoordinatorStats is the snapshot returned by Coordinator.Stats.
type CoordinatorStats struct {
	ActiveTopology    Topology
	PendingSwitch     *Topology
	StepsSinceSwitch  int
	CooldownRemaining int
	SwitchHistory     []SwitchHistoryEntry
	DwellMinSteps     int
	CooldownSteps     int
}

// CanSwitchResult reports whether a switch request would currently be
// admitted, and why not if not.
type CanSwitchResult struct {
	OK     bool
	Reason string // "dwell" | "cooldown" | ""
}

// RequestSwitchResult is the outcome of Coordinator.RequestSwitch.
type RequestSwitchResult struct {
	Accepted bool
	Reason   string
	Switch   *SwitchResult
	Err      *SwitchAbortedError // non-nil when the request was denied or the switch aborted; nil for a commit or a same-topology no-op
}

// changedSignal is a repeatable broadcast event: each Notify swaps in a
// fresh channel and closes the old one, waking every current waiter without
// requiring a single-shot Future (which, being one-shot, cannot be reused
// across the Coordinator's many switches).
type changedSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newChangedSignal() *changedSignal {
	return &changedSignal{ch: make(chan struct{})}
}

func (s *changedSignal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *changedSignal) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}

// Coordinator serializes switch requests behind dwell/cooldown admission
// control and publishes a TOPOLOGY_CHANGED signal on every committed switch.
type Coordinator struct {
	mu sync.Mutex

	engine *SwitchEngine

	dwellMinSteps int
	cooldownSteps int

	stepsSinceSwitch  int
	cooldownRemaining int
	activeTopology    Topology
	pendingSwitch     *Topology
	history           []SwitchHistoryEntry

	switchLock sync.Mutex
	changed    *changedSignal

	log *slog.Logger
}

// CoordinatorOption configures optional Coordinator parameters.
type CoordinatorOption func(*Coordinator)

func WithDwellMinSteps(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.dwellMinSteps = n
		}
	}
}

func WithCooldownSteps(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.cooldownSteps = n
		}
	}
}

func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCoordinator constructs a Coordinator over engine, starting in initial
// topology with zeroed dwell/cooldown counters.
func NewCoordinator(engine *SwitchEngine, initial Topology, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		engine:         engine,
		dwellMinSteps:  DefaultDwellMinSteps,
		cooldownSteps:  DefaultCooldownSteps,
		activeTopology: initial,
		changed:        newChangedSignal(),
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Step advances one logical controller tick, decaying the cooldown
// counter and accumulating dwell time.
func (c *Coordinator) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepsSinceSwitch++
	if c.cooldownRemaining > 0 {
		c.cooldownRemaining--
	}
}

// CanSwitch reports whether a switch would currently be admitted.
func (c *Coordinator) CanSwitch() CanSwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSwitchLocked()
}

func (c *Coordinator) canSwitchLocked() CanSwitchResult {
	if c.cooldownRemaining > 0 {
		return CanSwitchResult{OK: false, Reason: "cooldown"}
	}
	if c.stepsSinceSwitch < c.dwellMinSteps {
		return CanSwitchResult{OK: false, Reason: "dwell"}
	}
	return CanSwitchResult{OK: true}
}

// RequestSwitch attempts to move to target. A request to the already-active
// topology is a no-op. A request denied by dwell/cooldown is recorded as
// pending (overwriting any prior pending target) and surfaces as unaccepted;
// it is never retried automatically. Dwell/cooldown counters only advance via
// Step and on a successful commit; a request, accepted or not, never mutates
// them itself.
func (c *Coordinator) RequestSwitch(target Topology) RequestSwitchResult {
	c.mu.Lock()
	if target == c.activeTopology {
		c.mu.Unlock()
		return RequestSwitchResult{Accepted: true, Switch: nil}
	}

	chk := c.canSwitchLocked()
	if !chk.OK {
		t := target
		c.pendingSwitch = &t
		c.mu.Unlock()
		abortReason := AbortDeniedDwell
		if chk.Reason == "cooldown" {
			abortReason = AbortDeniedCooldown
		}
		return RequestSwitchResult{Accepted: false, Reason: chk.Reason, Err: &SwitchAbortedError{Reason: abortReason}}
	}
	c.mu.Unlock()

	c.switchLock.Lock()
	defer c.switchLock.Unlock()

	t0 := time.Now()
	result := c.engine.SwitchTo(target)
	elapsedMs := time.Since(t0).Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()

	if result.OK {
		old := c.activeTopology
		c.activeTopology = target
		c.stepsSinceSwitch = 0
		c.cooldownRemaining = c.cooldownSteps
		c.pendingSwitch = nil

		c.history = append(c.history, SwitchHistoryEntry{
			From: old, To: target, Epoch: result.Epoch, ElapsedMs: elapsedMs,
		})
		if len(c.history) > maxSwitchHistory {
			c.history = c.history[len(c.history)-maxSwitchHistory:]
		}

		c.log.Info("topology changed", slog.String("from", string(old)), slog.String("to", string(target)),
			slog.Uint64("epoch", uint64(result.Epoch)))
		c.changed.notify()
		return RequestSwitchResult{Accepted: true, Switch: &result}
	}

	return RequestSwitchResult{Accepted: true, Switch: &result, Err: &SwitchAbortedError{Reason: AbortTimeout}}
}

// ActiveTopology returns the currently committed topology.
func (c *Coordinator) ActiveTopology() Topology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTopology
}

// PendingSwitch returns the target topology deferred by dwell/cooldown, if
// any.
func (c *Coordinator) PendingSwitch() *Topology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSwitch
}

// WaitForTopologyChange blocks until the next committed switch or until
// timeout elapses (timeout<=0 waits forever). Returns false on timeout.
func (c *Coordinator) WaitForTopologyChange(timeout time.Duration) bool {
	ch := c.changed.wait()
	if timeout <= 0 {
		<-ch
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// Stats returns a point-in-time snapshot, with switch history capped at
// the most recent 10 entries.
func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist := make([]SwitchHistoryEntry, len(c.history))
	copy(hist, c.history)
	return CoordinatorStats{
		ActiveTopology:    c.activeTopology,
		PendingSwitch:     c.pendingSwitch,
		StepsSinceSwitch:  c.stepsSinceSwitch,
		CooldownRemaining: c.cooldownRemaining,
		SwitchHistory:     hist,
		DwellMinSteps:     c.dwellMinSteps,
		CooldownSteps:     c.cooldownSteps,
	}
}

// ResetStepCounter zeroes dwell/cooldown counters, for test setup.
func (c *Coordinator) ResetStepCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepsSinceSwitch = 0
	c.cooldownRemaining = 0
}
