package runtime

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultQuiesceDeadline bounds how long SwitchTo waits for the active
// epoch's queues to drain before aborting (spec.md §6 QUIESCE_DEADLINE_MS).
const DefaultQuiesceDeadline = 50 * time.Millisecond

// quiescePollInterval is the cooperative sleep between active_has_pending
// polls during QUIESCE, matching the reference's 1ms spin.
const quiescePollInterval = time.Millisecond

// PhaseDurations reports wall-clock spent in each phase of one SwitchTo call.
type PhaseDurations struct {
	Prepare       time.Duration
	Quiesce       time.Duration
	CommitOrAbort time.Duration
}

// SwitchResult is the outcome of one SwitchTo call.
type SwitchResult struct {
	OK              bool
	Epoch           Epoch
	Phases          PhaseDurations
	DroppedByReason map[DropReason]int
}

// SwitchEngine drives the PREPARE → QUIESCE → COMMIT/ABORT protocol over a
// Router, and is the sole authority for the currently active topology name.
type SwitchEngine struct {
	router *Router

	mu       sync.Mutex // guards topology; switchLock separately serializes SwitchTo
	topology Topology

	switchLock      sync.Mutex
	quiesceDeadline time.Duration

	log *slog.Logger
}

// NewSwitchEngine constructs a SwitchEngine over router, starting in
// initial topology, and attaches itself to the router as its switch source.
func NewSwitchEngine(router *Router, initial Topology, quiesceDeadline time.Duration, log *slog.Logger) *SwitchEngine {
	if quiesceDeadline <= 0 {
		quiesceDeadline = DefaultQuiesceDeadline
	}
	if log == nil {
		log = slog.Default()
	}
	se := &SwitchEngine{
		router:          router,
		topology:        initial,
		quiesceDeadline: quiesceDeadline,
		log:             log,
	}
	router.AttachSwitchEngine(se)
	return se
}

// Active returns the currently governing topology and the Router's active
// epoch, read together so callers never observe a topology/epoch pair that
// never actually coexisted.
func (se *SwitchEngine) Active() (Topology, Epoch) {
	se.mu.Lock()
	topology := se.topology
	se.mu.Unlock()
	return topology, se.router.ActiveEpoch()
}

// SwitchTo attempts to move the governed topology to target. Only one
// switch may be in flight at a time; concurrent callers block on
// switchLock exactly as the reference serializes on an asyncio.Lock.
func (se *SwitchEngine) SwitchTo(target Topology) SwitchResult {
	se.switchLock.Lock()
	defer se.switchLock.Unlock()

	t0 := time.Now()
	se.router.startSwitch()
	tPrepareDone := time.Now()

	deadline := tPrepareDone.Add(se.quiesceDeadline)
	for se.router.activeHasPending() {
		if time.Now().After(deadline) || time.Now().Equal(deadline) {
			tQuiesceDone := time.Now()
			dropped := se.router.abortSwitch()
			tAbortDone := time.Now()
			se.log.Warn("switch aborted: quiesce deadline exceeded",
				slog.String("target", string(target)),
				slog.Duration("quiesce", tAbortDone.Sub(tPrepareDone)))
			return SwitchResult{
				OK:    false,
				Epoch: se.router.ActiveEpoch(),
				Phases: PhaseDurations{
					Prepare:       tPrepareDone.Sub(t0),
					Quiesce:       tQuiesceDone.Sub(tPrepareDone),
					CommitOrAbort: tAbortDone.Sub(tQuiesceDone),
				},
				DroppedByReason: dropped,
			}
		}
		time.Sleep(quiescePollInterval)
	}

	tQuiesceDone := time.Now()
	se.router.commitSwitch()
	se.mu.Lock()
	se.topology = target
	se.mu.Unlock()
	tCommitDone := time.Now()

	se.log.Info("switch committed",
		slog.String("topology", string(target)),
		slog.Uint64("epoch", uint64(se.router.ActiveEpoch())))

	return SwitchResult{
		OK:    true,
		Epoch: se.router.ActiveEpoch(),
		Phases: PhaseDurations{
			Prepare:       tPrepareDone.Sub(t0),
			Quiesce:       tQuiesceDone.Sub(tPrepareDone),
			CommitOrAbort: tCommitDone.Sub(tQuiesceDone),
		},
		DroppedByReason: map[DropReason]int{},
	}
}
