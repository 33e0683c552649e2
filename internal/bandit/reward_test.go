package bandit

import "testing"

func TestStepRewardCombinesAllTerms(t *testing.T) {
	r := NewRewardAccumulator()

	prev := EpisodeState{Phase: "planning", TestPassRate: 0.2, TokensUsed: 100}
	curr := EpisodeState{Phase: "coding", TestPassRate: 0.5, TokensUsed: 250, SwitchCommitted: true}

	got := r.StepReward(prev, curr)

	// phase advance: +0.3
	// pass-rate delta: 0.7 * (0.5-0.2) = 0.21
	// token cost: -1e-4 * (250-100) = -0.015
	// switch cost: -0.05
	want := 0.3 + 0.21 - 0.015 - 0.05
	if !approxEq(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestStepRewardNoPhaseAdvanceSkipsBonus(t *testing.T) {
	r := NewRewardAccumulator()
	prev := EpisodeState{Phase: "coding", TestPassRate: 0.5, TokensUsed: 100}
	curr := EpisodeState{Phase: "coding", TestPassRate: 0.5, TokensUsed: 100}
	if got := r.StepReward(prev, curr); !approxEq(got, 0) {
		t.Fatalf("expected zero reward for a no-op transition, got %v", got)
	}
}

func TestStepRewardPhaseRegressionIsNotAnAdvance(t *testing.T) {
	r := NewRewardAccumulator()
	prev := EpisodeState{Phase: "testing", TestPassRate: 0.5, TokensUsed: 100}
	curr := EpisodeState{Phase: "coding", TestPassRate: 0.5, TokensUsed: 100}
	if got := r.StepReward(prev, curr); !approxEq(got, 0) {
		t.Fatalf("expected a phase regression to carry no advance bonus, got %v", got)
	}
}

func TestStepRewardUnknownPhaseNeverAdvances(t *testing.T) {
	r := NewRewardAccumulator()
	prev := EpisodeState{Phase: "planning", TokensUsed: 0}
	curr := EpisodeState{Phase: "limbo", TokensUsed: 0}
	if got := r.StepReward(prev, curr); !approxEq(got, 0) {
		t.Fatalf("expected an unrecognized phase to never count as an advance, got %v", got)
	}
}

func TestFinalBonus(t *testing.T) {
	r := NewRewardAccumulator()
	if got := r.FinalBonus(true); !approxEq(got, 1.0) {
		t.Fatalf("expected terminal bonus 1.0 on success, got %v", got)
	}
	if got := r.FinalBonus(false); !approxEq(got, 0.0) {
		t.Fatalf("expected zero terminal bonus on failure, got %v", got)
	}
}

func TestPhaseAdvanceFromSharesKnownTransitions(t *testing.T) {
	cases := []struct {
		name string
		prev RoleShares
		curr RoleShares
		want bool
	}{
		{"planner to coder_runner", RoleShares{Planner: 1}, RoleShares{CoderRunner: 1}, true},
		{"coder_runner to critic", RoleShares{CoderRunner: 1}, RoleShares{Critic: 1}, true},
		{"critic to planner", RoleShares{Critic: 1}, RoleShares{Planner: 1}, true},
		{"planner to critic is not a known transition", RoleShares{Planner: 1}, RoleShares{Critic: 1}, false},
		{"same dominant role", RoleShares{Planner: 1}, RoleShares{Planner: 0.9, CoderRunner: 0.1}, false},
		{"empty shares never advance", RoleShares{}, RoleShares{Planner: 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := PhaseAdvanceFromShares(c.prev, c.curr); got != c.want {
				t.Fatalf("PhaseAdvanceFromShares(%+v, %+v) = %v, want %v", c.prev, c.curr, got, c.want)
			}
		})
	}
}
