package bandit

// DefaultFeatureWindow is the sliding-window size over committed steps used
// to compute role shares (spec.md §4.5).
const DefaultFeatureWindow = 32

type roleCounts struct {
	planner int
	coder   int
	runner  int
	critic  int
}

func (c roleCounts) total() int {
	return c.planner + c.coder + c.runner + c.critic
}

// FeatureSource builds the 8-dimensional feature vector consumed by
// BanditSwitch.Decide from topology state, dwell progress, a sliding
// window of per-role message counts, and token budget headroom.
//
// Features, in order:
//  1. topo_onehot_star
//  2. topo_onehot_chain
//  3. topo_onehot_flat
//  4. steps_since_switch / dwell_min_steps, clamped to [0,1]
//  5. planner_share over the window
//  6. (coder+runner)_share over the window
//  7. critic_share over the window
//  8. token_headroom_pct = max(0, 1 - used/budget)
type FeatureSource struct {
	dwellMinSteps int
	window        int

	// roleWindow is a fixed-capacity ring of committed per-step role
	// counts; oldest entries are overwritten once full (spec: "deque for
	// O(1) append/pop" — the ring buffer is the Go equivalent, the same
	// approach internal/runtime's perRecipientQueue uses).
	roleWindow []roleCounts
	windowHead int
	windowLen  int

	currentTopology  string
	stepsSinceSwitch int
	tokenUsed        int
	tokenBudget      int

	current roleCounts
}

// NewFeatureSource constructs a FeatureSource with the given dwell floor
// and sliding-window size.
func NewFeatureSource(dwellMinSteps, window int) *FeatureSource {
	if window <= 0 {
		window = DefaultFeatureWindow
	}
	return &FeatureSource{
		dwellMinSteps:   dwellMinSteps,
		window:          window,
		roleWindow:      make([]roleCounts, window),
		currentTopology: "star",
		tokenBudget:     10_000,
	}
}

// ObserveMsg increments the in-flight step's counter for sender's role.
// Unknown role names are silently ignored, matching the reference's
// dict-membership guard.
func (f *FeatureSource) ObserveMsg(sender string) {
	switch sender {
	case "planner":
		f.current.planner++
	case "coder":
		f.current.coder++
	case "runner":
		f.current.runner++
	case "critic":
		f.current.critic++
	}
}

// Step commits the in-flight role counts into the sliding window and
// resets the per-step counters.
func (f *FeatureSource) Step() {
	f.roleWindow[f.windowHead] = f.current
	f.windowHead = (f.windowHead + 1) % f.window
	if f.windowLen < f.window {
		f.windowLen++
	}
	f.current = roleCounts{}
}

// SetBudget records token usage and budget for the headroom feature.
func (f *FeatureSource) SetBudget(used, budget int) {
	f.tokenUsed = used
	f.tokenBudget = budget
}

// SetTopology records the current topology and steps elapsed since the
// last committed switch.
func (f *FeatureSource) SetTopology(topology string, stepsSinceSwitch int) {
	f.currentTopology = topology
	f.stepsSinceSwitch = stepsSinceSwitch
}

// Vector computes the current 8-feature vector.
func (f *FeatureSource) Vector() [FeatureDim]float64 {
	var topoStar, topoChain, topoFlat float64
	switch f.currentTopology {
	case "star":
		topoStar = 1.0
	case "chain":
		topoChain = 1.0
	case "flat":
		topoFlat = 1.0
	}

	dwellFloor := f.dwellMinSteps
	if dwellFloor < 1 {
		dwellFloor = 1
	}
	stepsNorm := float64(f.stepsSinceSwitch) / float64(dwellFloor)
	if stepsNorm > 1.0 {
		stepsNorm = 1.0
	}

	var totalMsgs, plannerMsgs, coderRunnerMsgs, criticMsgs int
	for i := 0; i < f.windowLen; i++ {
		idx := (f.windowHead - f.windowLen + i + f.window) % f.window
		c := f.roleWindow[idx]
		plannerMsgs += c.planner
		coderRunnerMsgs += c.coder + c.runner
		criticMsgs += c.critic
		totalMsgs += c.total()
	}
	plannerMsgs += f.current.planner
	coderRunnerMsgs += f.current.coder + f.current.runner
	criticMsgs += f.current.critic
	totalMsgs += f.current.total()

	var plannerShare, coderRunnerShare, criticShare float64
	if totalMsgs > 0 {
		plannerShare = float64(plannerMsgs) / float64(totalMsgs)
		coderRunnerShare = float64(coderRunnerMsgs) / float64(totalMsgs)
		criticShare = float64(criticMsgs) / float64(totalMsgs)
	}

	var tokenHeadroomPct float64
	if f.tokenBudget > 0 {
		tokenHeadroomPct = 1.0 - float64(f.tokenUsed)/float64(f.tokenBudget)
		if tokenHeadroomPct < 0 {
			tokenHeadroomPct = 0
		}
	}

	return [FeatureDim]float64{
		topoStar, topoChain, topoFlat, stepsNorm,
		plannerShare, coderRunnerShare, criticShare, tokenHeadroomPct,
	}
}
