// Package agent defines an agent interface
package agent

import (
	"context"

	"github.com/samuelfneumann/flappydqn/expreplay"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions given an observation. The Policy and Learner
// share the same weights, so any change the Learner makes is reflected
// in the actions the Policy chooses.
type Agent interface {
	Learner
	Policy
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Remember records a transition for later learning
	Remember(expreplay.Experience)

	// OptimizeModel performs a single update to the weights. It is a
	// no-op returning nil if there is too little data to learn from.
	OptimizeModel() error

	// Loss returns the loss of the last update
	Loss() float64

	// BufferSize returns the number of transitions remembered
	BufferSize() int
}

// Policy represents a policy that an agent can have.
type Policy interface {
	// Act returns an action for the observation, exploring with
	// probability epsilon
	Act(obs []float64, epsilon float64) (int, error)

	// Predict returns the action values of each observation
	Predict(obs [][]float64) ([][]float64, error)
}

// Store is a named location that checkpoints can be written to and
// read from
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Checkpointer is an Agent whose weights can be saved and restored.
// Checkpoint and Restore are quick in-memory operations; the I/O of
// Save and Load may block.
type Checkpointer interface {
	Agent
	Checkpoint() ([]byte, error)
	Restore([]byte) error
	Save(ctx context.Context, store Store, name string) error
	Load(ctx context.Context, store Store, name string) error
}
