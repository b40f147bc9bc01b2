// Package policy implements action selection policies over action
// value estimates
package policy

import (
	"fmt"

	"github.com/samuelfneumann/flappydqn/utils/floatutils"
	"golang.org/x/exp/rand"
)

// EGreedy implements an epsilon greedy policy over a discrete action
// set enumerated from 0.
//
// Exploratory actions are drawn uniformly from the lowest
// ExploreFraction of the action indices rather than from the whole
// action set. With two actions and an ExploreFraction of 0.6, action 1
// is chosen on one sixth of exploratory steps. Set ExploreFraction to
// 1 to explore over every action.
type EGreedy struct {
	numActions      int
	exploreFraction float64
	rng             *rand.Rand
}

// NewEGreedy returns a new EGreedy policy over numActions actions
func NewEGreedy(numActions int, exploreFraction float64,
	seed uint64) (*EGreedy, error) {
	if numActions < 1 {
		return nil, fmt.Errorf("newegreedy: must have at least one action")
	}
	if exploreFraction <= 0 || exploreFraction > 1 {
		return nil, fmt.Errorf("newegreedy: explore fraction must be in "+
			"(0, 1] \n\thave(%v)", exploreFraction)
	}

	return &EGreedy{
		numActions:      numActions,
		exploreFraction: exploreFraction,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// Explore returns whether the next action should be exploratory when
// acting with the given epsilon
func (e *EGreedy) Explore(epsilon float64) bool {
	return e.rng.Float64() < epsilon
}

// Random returns an exploratory action
func (e *EGreedy) Random() int {
	action := int(e.rng.Float64() * e.exploreFraction * float64(e.numActions))
	if action >= e.numActions {
		action = e.numActions - 1
	}
	return action
}

// Greedy returns the action of maximum value. Ties are broken in
// favour of the lowest index.
func (e *EGreedy) Greedy(actionValues []float64) int {
	return floatutils.Argmax(actionValues)
}

// NumActions returns the number of actions the policy chooses between
func (e *EGreedy) NumActions() int {
	return e.numActions
}

// ExploreFraction returns the fraction of the action indices that
// exploratory actions are drawn from
func (e *EGreedy) ExploreFraction() float64 {
	return e.exploreFraction
}
