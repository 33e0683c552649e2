// Package controller wires the BanditSwitch policy, its feature source,
// and the runtime Coordinator into the decide → switch → observe loop
// that drives topology adaptation.
package controller

import (
	"time"

	"apex/internal/bandit"
	"apex/internal/runtime"
)

// DecisionRecord is one controller tick's full decision trace, suitable
// for JSONL persistence.
type DecisionRecord struct {
	Step            int
	Topology        runtime.Topology
	Features        [bandit.FeatureDim]float64
	Action          bandit.Action
	Epsilon         float64
	SwitchAttempted bool
	SwitchCommitted bool
	Epoch           runtime.Epoch
	TopologyAfter   runtime.Topology
	SwitchError     string
	TickMs          float64
}

// RewardRecord is one reward-update observation, suitable for JSONL
// persistence.
type RewardRecord struct {
	Step            int
	DeltaPassRate   float64
	DeltaTokens     int
	PhaseAdvance    bool
	SwitchCommitted bool
	RStep           float64
}

// Controller orchestrates one topology-switching control loop: build
// features, ask the bandit for an action, request a switch through the
// Coordinator if the action differs from the current topology, and log
// the outcome.
type Controller struct {
	bandit     *bandit.BanditSwitch
	featureSrc *bandit.FeatureSource
	coord      *runtime.Coordinator
	switchEng  *runtime.SwitchEngine
	rewardAcc  *bandit.RewardAccumulator

	budget int

	decisionLog []DecisionRecord
	rewardLog   []RewardRecord

	stepCount int
}

// New constructs a Controller over an already-wired bandit, feature
// source, coordinator, and switch engine.
func New(b *bandit.BanditSwitch, fs *bandit.FeatureSource, coord *runtime.Coordinator, se *runtime.SwitchEngine, budget int) *Controller {
	if budget <= 0 {
		budget = 10_000
	}
	return &Controller{
		bandit:     b,
		featureSrc: fs,
		coord:      coord,
		switchEng:  se,
		rewardAcc:  bandit.NewRewardAccumulator(),
		budget:     budget,
	}
}

// actionTopology maps a non-stay bandit action to its target topology
// name; ActionStay has no corresponding topology and is never switched to.
func actionTopology(a bandit.Action) (runtime.Topology, bool) {
	switch a {
	case bandit.ActionStar:
		return runtime.TopologyStar, true
	case bandit.ActionChain:
		return runtime.TopologyChain, true
	case bandit.ActionFlat:
		return runtime.TopologyFlat, true
	default:
		return "", false
	}
}

// Tick executes one controller step: builds the feature vector from
// current topology state, asks the bandit for a decision, requests a
// switch if warranted, and records the full decision trace.
func (c *Controller) Tick() DecisionRecord {
	tickStart := time.Now()
	c.stepCount++

	currentTopo, epoch := c.switchEng.Active()
	stats := c.coord.Stats()
	c.featureSrc.SetTopology(string(currentTopo), stats.StepsSinceSwitch)

	x := c.featureSrc.Vector()
	decision := c.bandit.Decide(x)

	record := DecisionRecord{
		Step:     c.stepCount,
		Topology: currentTopo,
		Features: x,
		Action:   decision.Action,
		Epsilon:  decision.Epsilon,
		Epoch:    epoch,
	}

	if target, ok := actionTopology(decision.Action); ok && target != currentTopo {
		record.SwitchAttempted = true
		result := c.coord.RequestSwitch(target)
		if result.Switch != nil && result.Switch.OK {
			record.SwitchCommitted = true
			record.Epoch = result.Switch.Epoch
			record.TopologyAfter = target
		} else if result.Err != nil {
			record.SwitchError = result.Err.Error()
		}
	}

	record.TickMs = float64(time.Since(tickStart)) / float64(time.Millisecond)

	c.decisionLog = append(c.decisionLog, record)
	c.featureSrc.Step()

	return record
}

// UpdateReward computes the step reward for the prev→curr transition,
// feeds it back into the bandit using the feature vector and action from
// the most recent Tick, and records the reward trace.
func (c *Controller) UpdateReward(prev, curr bandit.EpisodeState) float64 {
	reward := c.rewardAcc.StepReward(prev, curr)

	if len(c.decisionLog) > 0 {
		last := c.decisionLog[len(c.decisionLog)-1]
		c.bandit.Update(last.Features, last.Action, reward)
	}

	c.rewardLog = append(c.rewardLog, RewardRecord{
		Step:            c.stepCount,
		DeltaPassRate:   curr.TestPassRate - prev.TestPassRate,
		DeltaTokens:     curr.TokensUsed - prev.TokensUsed,
		PhaseAdvance:    phaseAdvanced(prev.Phase, curr.Phase),
		SwitchCommitted: curr.SwitchCommitted,
		RStep:           reward,
	})

	return reward
}

func phaseAdvanced(prev, curr string) bool {
	order := map[string]int{"planning": 0, "coding": 1, "testing": 2, "critique": 3, "done": 4}
	pi, pok := order[prev]
	ci, cok := order[curr]
	return pok && cok && ci > pi
}

// DecisionLog returns the full decision trace recorded so far.
func (c *Controller) DecisionLog() []DecisionRecord { return c.decisionLog }

// RewardLog returns the full reward trace recorded so far.
func (c *Controller) RewardLog() []RewardRecord { return c.rewardLog }

// Stats is the snapshot returned by Controller.Stats.
type Stats struct {
	Steps     int
	Decisions int
	Rewards   int
	Bandit    bandit.Stats
}

// Stats reports step/decision/reward counts alongside the bandit's own
// stats snapshot.
func (c *Controller) Stats() Stats {
	return Stats{
		Steps:     c.stepCount,
		Decisions: len(c.decisionLog),
		Rewards:   len(c.rewardLog),
		Bandit:    c.bandit.Stats(),
	}
}
