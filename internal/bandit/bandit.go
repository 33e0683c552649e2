// Package bandit implements the ε-greedy ridge-linear contextual bandit
// that decides topology switches, its feature extraction, and its reward
// accounting.
package bandit

import (
	"math/rand"
)

// Action is one of the four topology decisions the bandit may emit.
type Action int

const (
	ActionStay Action = iota
	ActionStar
	ActionChain
	ActionFlat
	numActions
)

func (a Action) String() string {
	switch a {
	case ActionStay:
		return "stay"
	case ActionStar:
		return "star"
	case ActionChain:
		return "chain"
	case ActionFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// FeatureDim is the fixed feature-vector width (spec.md §4.5).
const FeatureDim = 8

// Default bandit hyperparameters, per spec.md §6 and
// original_source/apex/controller/bandit_v1.py.
const (
	DefaultLambdaReg    = 1e-2
	DefaultEpsilonStart = 0.20
	DefaultEpsilonEnd   = 0.05
	DefaultEpsilonSteps = 5000
)

// actionModel holds one action's ridge-regression state: aInv (the
// Sherman-Morrison-maintained inverse of A), b, and the derived weight w.
type actionModel struct {
	aInv [FeatureDim][FeatureDim]float64
	b    [FeatureDim]float64
	w    [FeatureDim]float64
}

func newActionModel(lambdaReg float64) *actionModel {
	m := &actionModel{}
	for i := 0; i < FeatureDim; i++ {
		m.aInv[i][i] = 1.0 / lambdaReg
	}
	return m
}

// Decision is the result of one BanditSwitch.Decide call.
type Decision struct {
	Action  Action
	Epsilon float64
}

// BanditSwitch is an ε-greedy ridge-linear contextual bandit over the four
// topology actions, one independent ridge model per action, updated online
// via the Sherman-Morrison rank-one inverse formula.
//
// A BanditSwitch owns a private math/rand.Rand; it never reads or seeds the
// process-global source, so two bandits with distinct seeds never interfere.
type BanditSwitch struct {
	d         int
	lambdaReg float64
	models    [int(numActions)]*actionModel

	epsilonStart float64
	epsilonEnd   float64
	epsilonSteps int

	decisionCount int64
	actionCounts  [int(numActions)]int64
	rng           *rand.Rand
}

// Option configures optional BanditSwitch parameters.
type Option func(*BanditSwitch)

func WithLambdaReg(lambda float64) Option {
	return func(b *BanditSwitch) {
		if lambda > 0 {
			b.lambdaReg = lambda
		}
	}
}

func WithEpsilonSchedule(start, end float64, steps int) Option {
	return func(b *BanditSwitch) {
		b.epsilonStart = start
		b.epsilonEnd = end
		if steps > 0 {
			b.epsilonSteps = steps
		}
	}
}

// New constructs a BanditSwitch with a private RNG seeded from seed.
func New(seed int64, opts ...Option) *BanditSwitch {
	b := &BanditSwitch{
		d:            FeatureDim,
		lambdaReg:    DefaultLambdaReg,
		epsilonStart: DefaultEpsilonStart,
		epsilonEnd:   DefaultEpsilonEnd,
		epsilonSteps: DefaultEpsilonSteps,
		rng:          rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(b)
	}
	for a := 0; a < int(numActions); a++ {
		b.models[a] = newActionModel(b.lambdaReg)
	}
	return b
}

func (b *BanditSwitch) epsilon() float64 {
	if b.decisionCount >= int64(b.epsilonSteps) {
		return b.epsilonEnd
	}
	progress := float64(b.decisionCount) / float64(b.epsilonSteps)
	eps := b.epsilonStart - (b.epsilonStart-b.epsilonEnd)*progress
	if eps < b.epsilonEnd {
		return b.epsilonEnd
	}
	if eps > b.epsilonStart {
		return b.epsilonStart
	}
	return eps
}

// Decide selects an action for feature vector x using ε-greedy selection
// over the per-action predicted rewards w_a · x. Ties on exploit break to
// the lowest action index, matching numpy.argmax.
func (b *BanditSwitch) Decide(x [FeatureDim]float64) Decision {
	eps := b.epsilon()

	var action Action
	if b.rng.Float64() < eps {
		action = Action(b.rng.Intn(int(numActions)))
	} else {
		best := 0
		bestReward := dot(b.models[0].w, x)
		for a := 1; a < int(numActions); a++ {
			r := dot(b.models[a].w, x)
			if r > bestReward {
				bestReward = r
				best = a
			}
		}
		action = Action(best)
	}

	b.decisionCount++
	b.actionCounts[action]++

	return Decision{Action: action, Epsilon: eps}
}

// Update applies the observed reward for (x, action) via a Sherman-Morrison
// rank-one update of that action's inverse, then recomputes its weight
// vector w = AInv·b.
func (b *BanditSwitch) Update(x [FeatureDim]float64, action Action, reward float64) {
	m := b.models[action]

	var ax [FeatureDim]float64
	for i := 0; i < FeatureDim; i++ {
		var s float64
		for j := 0; j < FeatureDim; j++ {
			s += m.aInv[i][j] * x[j]
		}
		ax[i] = s
	}

	denominator := 1.0 + dot(ax, x)

	var newInv [FeatureDim][FeatureDim]float64
	for i := 0; i < FeatureDim; i++ {
		for j := 0; j < FeatureDim; j++ {
			newInv[i][j] = m.aInv[i][j] - (ax[i]*ax[j])/denominator
		}
	}
	m.aInv = newInv

	for i := 0; i < FeatureDim; i++ {
		m.b[i] += reward * x[i]
	}

	for i := 0; i < FeatureDim; i++ {
		var s float64
		for j := 0; j < FeatureDim; j++ {
			s += m.aInv[i][j] * m.b[j]
		}
		m.w[i] = s
	}
}

func dot(w, x [FeatureDim]float64) float64 {
	var s float64
	for i := 0; i < FeatureDim; i++ {
		s += w[i] * x[i]
	}
	return s
}

// Stats is the snapshot returned by BanditSwitch.Stats.
type Stats struct {
	TotalDecisions int64
	ActionCounts   map[Action]int64
	CurrentEpsilon float64
	EpsilonStart   float64
	EpsilonEnd     float64
	EpsilonSteps   int
}

// Stats reports decision counts, per-action counts, and the current
// epsilon schedule state.
func (b *BanditSwitch) Stats() Stats {
	counts := make(map[Action]int64, int(numActions))
	for a := 0; a < int(numActions); a++ {
		counts[Action(a)] = b.actionCounts[a]
	}
	return Stats{
		TotalDecisions: b.decisionCount,
		ActionCounts:   counts,
		CurrentEpsilon: b.epsilon(),
		EpsilonStart:   b.epsilonStart,
		EpsilonEnd:     b.epsilonEnd,
		EpsilonSteps:   b.epsilonSteps,
	}
}
