package bandit

// Default reward-shaping coefficients, per spec.md §4.6 and
// original_source/apex/controller/reward.py.
const (
	DefaultPhaseAdvanceReward  = 0.3
	DefaultTestPassRewardScale = 0.7
	DefaultTokenCost           = 1e-4
	DefaultSwitchCost          = 0.05
	DefaultTerminalBonus       = 1.0
)

// phaseOrder is the fixed forward progression used to detect phase
// advancement; any phase not in this list never counts as an advance.
var phaseOrder = []string{"planning", "coding", "testing", "critique", "done"}

func phaseIndex(phase string) (int, bool) {
	for i, p := range phaseOrder {
		if p == phase {
			return i, true
		}
	}
	return 0, false
}

// EpisodeState is the slice of episode state the reward function reads at
// each controller tick.
type EpisodeState struct {
	Phase           string
	TestPassRate    float64
	TokensUsed      int
	SwitchCommitted bool
}

// RewardAccumulator computes deterministic per-step and terminal rewards
// from phase advancement, test-pass-rate improvement, token cost, and
// switch cost.
type RewardAccumulator struct {
	phaseAdvanceReward  float64
	testPassRewardScale float64
	tokenCost           float64
	switchCost          float64
	terminalBonus       float64
}

// NewRewardAccumulator constructs a RewardAccumulator with the default
// coefficients.
func NewRewardAccumulator() *RewardAccumulator {
	return &RewardAccumulator{
		phaseAdvanceReward:  DefaultPhaseAdvanceReward,
		testPassRewardScale: DefaultTestPassRewardScale,
		tokenCost:           DefaultTokenCost,
		switchCost:          DefaultSwitchCost,
		terminalBonus:       DefaultTerminalBonus,
	}
}

// StepReward computes the reward for the transition from prev to curr.
func (r *RewardAccumulator) StepReward(prev, curr EpisodeState) float64 {
	var reward float64

	if r.detectPhaseAdvance(prev.Phase, curr.Phase) {
		reward += r.phaseAdvanceReward
	}

	deltaPassRate := curr.TestPassRate - prev.TestPassRate
	reward += r.testPassRewardScale * deltaPassRate

	deltaTokens := curr.TokensUsed - prev.TokensUsed
	reward -= r.tokenCost * float64(deltaTokens)

	if curr.SwitchCommitted {
		reward -= r.switchCost
	}

	return reward
}

func (r *RewardAccumulator) detectPhaseAdvance(prevPhase, currPhase string) bool {
	if prevPhase == "" || currPhase == "" {
		return false
	}
	prevIdx, ok := phaseIndex(prevPhase)
	if !ok {
		return false
	}
	currIdx, ok := phaseIndex(currPhase)
	if !ok {
		return false
	}
	return currIdx > prevIdx
}

// FinalBonus returns the terminal bonus for an episode's outcome.
func (r *RewardAccumulator) FinalBonus(success bool) float64 {
	if success {
		return r.terminalBonus
	}
	return 0.0
}

// RoleShares is the dominant-role share triple used by
// PhaseAdvanceFromShares as a fallback phase-transition signal when the
// caller tracks role dominance instead of an explicit phase label.
type RoleShares struct {
	Planner     float64
	CoderRunner float64
	Critic      float64
}

func (s RoleShares) dominant() (string, bool) {
	if s.Planner == 0 && s.CoderRunner == 0 && s.Critic == 0 {
		return "", false
	}
	dominant, best := "planner", s.Planner
	if s.CoderRunner > best {
		dominant, best = "coder_runner", s.CoderRunner
	}
	if s.Critic > best {
		dominant = "critic"
	}
	return dominant, true
}

var roleShareTransitions = map[[2]string]bool{
	{"planner", "coder_runner"}: true,
	{"coder_runner", "critic"}:  true,
	{"critic", "planner"}:       true,
}

// PhaseAdvanceFromShares is the role-share-based alternative to explicit
// phase labels: a shift in which role dominates message volume signals a
// phase transition when the shift matches one of the known forward
// transitions (planning→coding→critique→new iteration).
func PhaseAdvanceFromShares(prev, curr RoleShares) bool {
	prevDominant, prevOK := prev.dominant()
	currDominant, currOK := curr.dominant()
	if !prevOK || !currOK || prevDominant == currDominant {
		return false
	}
	return roleShareTransitions[[2]string{prevDominant, currDominant}]
}
