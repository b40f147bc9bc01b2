package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/flappydqn/utils/floatutils"
)

// Experience is a single (o, a, r, o', done) transition. Experiences
// are values: NewExperience copies the observation slices so that an
// Experience is never changed after it is created.
type Experience struct {
	Observation     []float64
	Action          int
	Reward          float64
	NextObservation []float64
	Done            bool
}

// NewExperience returns a new Experience holding copies of obs and
// nextObs
func NewExperience(obs []float64, action int, reward float64,
	nextObs []float64, done bool) Experience {
	o := make([]float64, len(obs))
	copy(o, obs)
	next := make([]float64, len(nextObs))
	copy(next, nextObs)

	return Experience{
		Observation:     o,
		Action:          action,
		Reward:          reward,
		NextObservation: next,
		Done:            done,
	}
}

// Validate returns an error if the Experience cannot be used in a
// training batch for an approximator with the given number of input
// features and actions.
func (e Experience) Validate(features, actions int) error {
	if len(e.Observation) != features {
		return fmt.Errorf("validate: observation length \n\twant(%v) "+
			"\n\thave(%v)", features, len(e.Observation))
	}
	if len(e.NextObservation) != features {
		return fmt.Errorf("validate: next observation length \n\twant(%v) "+
			"\n\thave(%v)", features, len(e.NextObservation))
	}
	if !floatutils.AllFinite(e.Observation) {
		return fmt.Errorf("validate: observation is not numeric")
	}
	if !floatutils.AllFinite(e.NextObservation) {
		return fmt.Errorf("validate: next observation is not numeric")
	}
	if e.Action < 0 || e.Action >= actions {
		return fmt.Errorf("validate: action %v outside [0, %v)", e.Action,
			actions)
	}
	if !floatutils.IsFinite(e.Reward) {
		return fmt.Errorf("validate: reward %v is not numeric", e.Reward)
	}
	return nil
}

func (e Experience) String() string {
	return fmt.Sprintf("Experience | Action: %v  |  Reward: %.2f  |  "+
		"Done: %v", e.Action, e.Reward, e.Done)
}
