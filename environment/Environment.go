// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"image"

	"github.com/samuelfneumann/flappydqn/timestep"
	"github.com/samuelfneumann/flappydqn/utils/floatutils"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() []float64
}

// Ender determines whether an episode should end. If so, End marks
// the timestep as the last in its episode and returns true.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Environment implements a simulated environment with a discrete
// action set. The environment is ready to use once constructed.
type Environment interface {
	// Reset reinitializes the world, score, and terminal flag
	Reset()

	// Step advances the environment by one fixed timestep
	Step(action int) (timestep.TimeStep, error)

	// Observation returns the current observation without advancing
	// the environment
	Observation() []float64

	IsDone() bool
	NumActions() int
	ObservationSize() int
}

// Scorer is an Environment that keeps a score within each episode
type Scorer interface {
	Score() int
}

// Renderer is an Environment that can draw its current state. If
// overlay is true, sensor readings are drawn over the frame.
type Renderer interface {
	Render(overlay bool) image.Image
}

// Sanitize returns obs if it has length size and holds only finite
// values. Otherwise it returns a safe default observation of length
// size, in which every entry is 1, and false.
func Sanitize(obs []float64, size int) ([]float64, bool) {
	if len(obs) == size && floatutils.AllFinite(obs) {
		return obs, true
	}
	safe := make([]float64, size)
	for i := range safe {
		safe[i] = 1.0
	}
	return safe, false
}
