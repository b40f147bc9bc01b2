package deepq

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/initwfn"
	"github.com/samuelfneumann/flappydqn/solver"
)

// Config implements a configuration for a DeepQ agent
type Config struct {
	Features    int   // Length of each observation
	Actions     int   // Number of discrete actions
	HiddenSizes []int // Layer sizes in neural net

	Solver  *solver.Solver   // Solver for learning weights
	InitWFn *initwfn.InitWFn // Initialization algorithm for weights

	Gamma float64 // Discount factor

	// Experience replay parameters
	Capacity  int
	BatchSize int

	// ExploreFraction is the fraction of the action indices that
	// exploratory actions are drawn from
	ExploreFraction float64

	// Target net updates. With Tau = 1 and TargetUpdateInterval = 1 the
	// bootstrap target uses the weights of the network being learned.
	Tau                  float64 // Polyak averaging constant
	TargetUpdateInterval int     // Number of updates between target updates

	Seed   uint64
	Logger zerolog.Logger
}

// DefaultConfig returns the default configuration of a DeepQ agent
// with the given observation length and number of actions
func DefaultConfig(features, actions int) Config {
	// The loss is already averaged over the batch, so the solver must
	// not average the gradient again
	s, err := solver.NewDefaultAdam(0.001, 1)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: %v", err))
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: %v", err))
	}

	return Config{
		Features:             features,
		Actions:              actions,
		HiddenSizes:          []int{256, 256},
		Solver:               s,
		InitWFn:              init,
		Gamma:                0.99,
		Capacity:             10000,
		BatchSize:            64,
		ExploreFraction:      0.6,
		Tau:                  1.0,
		TargetUpdateInterval: 1,
		Seed:                 0,
		Logger:               zerolog.Nop(),
	}
}

// Validate checks a Config to ensure it is a valid configuration of a
// DeepQ agent.
func (c Config) Validate() error {
	if c.Features < 1 {
		return fmt.Errorf("validate: features must be positive \n\thave(%v)",
			c.Features)
	}
	if c.Actions < 1 {
		return fmt.Errorf("validate: actions must be positive \n\thave(%v)",
			c.Actions)
	}
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("validate: at least one hidden layer required")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1] \n\thave(%v)",
			c.Gamma)
	}
	if c.BatchSize < 1 || c.BatchSize > c.Capacity {
		return fmt.Errorf("validate: batch size must be in [1, capacity] "+
			"\n\twant(<= %v) \n\thave(%v)", c.Capacity, c.BatchSize)
	}
	if c.ExploreFraction <= 0 || c.ExploreFraction > 1 {
		return fmt.Errorf("validate: explore fraction must be in (0, 1] "+
			"\n\thave(%v)", c.ExploreFraction)
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}
	if c.TargetUpdateInterval < 1 {
		err := fmt.Errorf("validate: target networks must be updated at "+
			"positive intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateInterval)
		return err
	}

	return nil
}
