// Package reward implements reward schemes for the pipe course. A
// reward scheme is a pure function of two consecutive environment
// states.
package reward

import "fmt"

// Cause describes why an episode ended
type Cause int

const (
	// None is the Cause of a state that is not terminal
	None Cause = iota

	// Floor is the Cause of an episode ending with the agent at or
	// below the ground
	Floor

	// Crash is the Cause of an episode ending in any other way, such
	// as a collision with an obstacle in mid air
	Crash
)

func (c Cause) String() string {
	switch c {
	case Floor:
		return "Floor"
	case Crash:
		return "Crash"
	default:
		return "None"
	}
}

// State is the part of an environment state that rewards depend on
type State struct {
	// Score is the number of obstacles passed so far this episode
	Score int

	// Y is the vertical position of the agent in screen coordinates
	Y float64

	// CeilingY is the height at or above which the agent is
	// considered to be touching the top boundary
	CeilingY float64

	Done  bool
	Cause Cause
}

// AtCeiling returns whether the agent is at or above the top boundary
func (s State) AtCeiling() bool {
	return s.Y <= s.CeilingY
}

// Model computes the reward for the transition from prev to next
type Model interface {
	Reward(prev, next State) float64
}

// Scheme holds the magnitudes of a reward scheme. Penalties are given
// as negative numbers.
type Scheme struct {
	Alive   float64 // Every step
	Score   float64 // Steps on which the score increases
	Ceiling float64 // Steps that end at the top boundary
	Floor   float64 // Terminal steps with Cause Floor
	Crash   float64 // Terminal steps with Cause Crash
}

// Reward implements the Model interface. The terminal penalty is only
// given on the step at which the episode ends.
func (s Scheme) Reward(prev, next State) float64 {
	r := s.Alive

	if next.Score > prev.Score {
		r += s.Score
	}

	if next.AtCeiling() {
		r += s.Ceiling
	}

	if next.Done && !prev.Done {
		switch next.Cause {
		case Floor:
			r += s.Floor
		default:
			r += s.Crash
		}
	}

	return r
}

func (s Scheme) String() string {
	return fmt.Sprintf("Scheme | Alive: %v  |  Score: %v  |  Ceiling: %v  |"+
		"  Floor: %v  |  Crash: %v", s.Alive, s.Score, s.Ceiling, s.Floor,
		s.Crash)
}

// Rich returns the reward scheme that distinguishes floor deaths from
// other deaths
func Rich() Scheme {
	return Scheme{
		Alive:   0.1,
		Score:   10.0,
		Ceiling: -3.0,
		Floor:   -15.0,
		Crash:   -10.0,
	}
}

// Simple returns the reward scheme with a single terminal penalty
func Simple() Scheme {
	return Scheme{
		Alive:   0.1,
		Score:   1.0,
		Ceiling: -0.5,
		Floor:   -1.0,
		Crash:   -1.0,
	}
}

// Named returns the reward scheme with the given name, either "rich"
// or "simple"
func Named(name string) (Scheme, error) {
	switch name {
	case "rich":
		return Rich(), nil
	case "simple":
		return Simple(), nil
	default:
		return Scheme{}, fmt.Errorf("named: unknown reward scheme %q", name)
	}
}
