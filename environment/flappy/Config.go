package flappy

import (
	"fmt"

	"github.com/samuelfneumann/flappydqn/reward"
)

// Config configures a Flappy environment
type Config struct {
	Rays        int     // Lidar rays, the length of each observation
	MaxDistance float64 // Lidar ray length in pixels

	// TiltSensor rotates the lidar fan with the bird
	TiltSensor bool

	// StartJitter is the largest distance in pixels that the bird's
	// starting height may differ from the middle of the screen
	StartJitter float64

	// MaxSteps ends episodes after this many steps. Zero means never.
	MaxSteps int

	Reward reward.Model
	Seed   uint64
}

// DefaultConfig returns the canonical configuration: 180 rays of
// length 300 and the rich reward scheme
func DefaultConfig() Config {
	return Config{
		Rays:        180,
		MaxDistance: 300,
		Reward:      reward.Rich(),
	}
}

// Validate returns an error if the Config cannot be used to build an
// environment
func (c Config) Validate() error {
	if c.Rays < 1 {
		return fmt.Errorf("validate: rays must be positive, have %v", c.Rays)
	}
	if c.MaxDistance <= 0 {
		return fmt.Errorf("validate: max distance must be positive, "+
			"have %v", c.MaxDistance)
	}
	if c.StartJitter < 0 || c.StartJitter > GroundY/2-BirdHeight {
		return fmt.Errorf("validate: start jitter out of range, have %v",
			c.StartJitter)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("validate: max steps must be non-negative, "+
			"have %v", c.MaxSteps)
	}
	if c.Reward == nil {
		return fmt.Errorf("validate: no reward model")
	}
	return nil
}
