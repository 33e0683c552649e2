package runtime

import (
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *Router) {
	t.Helper()
	r := NewRouter([]AgentID{RolePlanner, RoleCoder}, WithQueueCap(4))
	se := NewSwitchEngine(r, TopologyStar, 50*time.Millisecond, nil)
	c := NewCoordinator(se, TopologyStar, WithDwellMinSteps(2), WithCooldownSteps(2))
	return c, r
}

func TestCoordinatorDeniesSwitchDuringDwell(t *testing.T) {
	c, _ := newTestCoordinator(t)

	result := c.RequestSwitch(TopologyChain)
	if result.Accepted {
		t.Fatal("expected switch to be denied before dwell floor is reached")
	}
	if result.Reason != "dwell" {
		t.Fatalf("expected reason 'dwell', got %q", result.Reason)
	}
	if result.Err == nil || result.Err.Reason != AbortDeniedDwell {
		t.Fatalf("expected a SwitchAbortedError with reason denied_dwell, got %+v", result.Err)
	}
	if got := c.PendingSwitch(); got == nil || *got != TopologyChain {
		t.Fatalf("expected pending switch to record chain, got %v", got)
	}
}

func TestCoordinatorAcceptsSwitchAfterDwellThenEnforcesCooldown(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Step()
	c.Step()

	result := c.RequestSwitch(TopologyChain)
	if !result.Accepted || result.Switch == nil || !result.Switch.OK {
		t.Fatalf("expected switch to commit after dwell floor, got %+v", result)
	}
	if c.ActiveTopology() != TopologyChain {
		t.Fatalf("expected active topology to be chain, got %s", c.ActiveTopology())
	}

	// Immediately after a commit, cooldown blocks a further switch even
	// though dwell has been reset to zero.
	second := c.RequestSwitch(TopologyFlat)
	if second.Accepted {
		t.Fatal("expected switch to be denied during cooldown")
	}
	if second.Reason != "cooldown" {
		t.Fatalf("expected reason 'cooldown', got %q", second.Reason)
	}
	if second.Err == nil || second.Err.Reason != AbortDeniedCooldown {
		t.Fatalf("expected a SwitchAbortedError with reason denied_cooldown, got %+v", second.Err)
	}
}

func TestCoordinatorSwitchTimeoutSurfacesTypedAbortError(t *testing.T) {
	r := NewRouter([]AgentID{RolePlanner, RoleCoder}, WithQueueCap(4))
	se := NewSwitchEngine(r, TopologyStar, time.Nanosecond, nil)
	c := NewCoordinator(se, TopologyStar, WithDwellMinSteps(0), WithCooldownSteps(0))

	msg, err := NewMessage("ep", SystemSender, RolePlanner, map[string]any{"k": "v"}, 0, "", 0)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	for _, outcome := range r.Route(msg) {
		if outcome.Err != nil {
			t.Fatalf("route: %v", outcome.Err)
		}
	}

	result := c.RequestSwitch(TopologyChain)
	if !result.Accepted || result.Switch == nil || result.Switch.OK {
		t.Fatalf("expected the switch attempt to abort on a near-zero quiesce deadline, got %+v", result)
	}
	if result.Err == nil || result.Err.Reason != AbortTimeout {
		t.Fatalf("expected a SwitchAbortedError with reason timeout, got %+v", result.Err)
	}
}

func TestCoordinatorSameTopologyRequestIsNoopAndLeavesCountersUntouched(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Step()
	result := c.RequestSwitch(TopologyStar)
	if !result.Accepted || result.Switch != nil {
		t.Fatalf("expected a no-op accept with no switch attempt, got %+v", result)
	}
	stats := c.Stats()
	if stats.StepsSinceSwitch != 1 {
		t.Fatalf("expected steps_since_switch to be unaffected by the request, got %d", stats.StepsSinceSwitch)
	}
}

func TestCoordinatorDenialDoesNotAdvanceStepsSinceSwitch(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.RequestSwitch(TopologyChain)
	c.RequestSwitch(TopologyChain)

	stats := c.Stats()
	if stats.StepsSinceSwitch != 0 {
		t.Fatalf("expected repeated denials to leave steps_since_switch at 0, got %d", stats.StepsSinceSwitch)
	}
}

func TestCoordinatorSwitchHistoryCappedAtTen(t *testing.T) {
	c, _ := newTestCoordinator(t)
	targets := []Topology{TopologyChain, TopologyFlat, TopologyStar}
	for i := 0; i < 15; i++ {
		c.ResetStepCounter()
		c.Step()
		c.Step()
		target := targets[i%len(targets)]
		if target == c.ActiveTopology() {
			continue
		}
		c.RequestSwitch(target)
	}
	stats := c.Stats()
	if len(stats.SwitchHistory) > 10 {
		t.Fatalf("expected switch history capped at 10, got %d", len(stats.SwitchHistory))
	}
}

func TestCoordinatorWaitForTopologyChangeTimesOut(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if c.WaitForTopologyChange(10 * time.Millisecond) {
		t.Fatal("expected timeout with no pending switch")
	}
}

func TestCoordinatorWaitForTopologyChangeWakesOnCommit(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Step()
	c.Step()

	// Grab the wait channel directly (whitebox, same package) so the
	// subscription happens-before the commit; spawning a waiter goroutine
	// and racing it against RequestSwitch would be flaky since a switch
	// onto an idle router can commit before the goroutine is scheduled.
	ch := c.changed.wait()

	result := c.RequestSwitch(TopologyChain)
	if !result.Accepted || result.Switch == nil || !result.Switch.OK {
		t.Fatalf("expected switch to commit, got %+v", result)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("WaitForTopologyChange channel did not close after a committed switch")
	}
}
