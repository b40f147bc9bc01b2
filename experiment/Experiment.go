// Package experiment implements the training session, an episodic
// state machine that drives an agent through an environment. A session
// steps the environment once per tick, stores the resulting
// experience, optionally trains the agent, and keeps episode
// bookkeeping, checkpoints, and data trackers up to date.
package experiment

import (
	"errors"
	"fmt"

	"github.com/samuelfneumann/flappydqn/utils/floatutils"
	"gonum.org/v1/gonum/spatial/r1"
)

var (
	// ErrUnknownCommand is returned when a command name cannot be
	// parsed or a command value is not known
	ErrUnknownCommand = errors.New("unknown command")

	// ErrFinished is returned by commands that cannot be applied to
	// a finished session
	ErrFinished = errors.New("session finished")

	// ErrPending is returned when a checkpoint save or load is
	// requested while another is outstanding
	ErrPending = errors.New("checkpoint operation outstanding")
)

// State is the state of a training session
type State int

const (
	// Idle sessions do not step the environment
	Idle State = iota

	// Running sessions step the environment every tick
	Running

	// AwaitingReset sessions wait out the reset delay after an
	// episode has ended
	AwaitingReset

	// Finished sessions have stopped training and will not step the
	// environment again
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case AwaitingReset:
		return "AwaitingReset"
	case Finished:
		return "Finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements the encoding.TextMarshaler interface
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Command is a control input to a training session
type Command int

const (
	ToggleTraining Command = iota
	ToggleAIControl
	SaveCheckpoint
	LoadCheckpoint
	ToggleSensorOverlay
	Flap
)

var commandNames = map[Command]string{
	ToggleTraining:      "toggle-training",
	ToggleAIControl:     "toggle-ai",
	SaveCheckpoint:      "save",
	LoadCheckpoint:      "load",
	ToggleSensorOverlay: "toggle-overlay",
	Flap:                "flap",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand returns the Command with the given name
func ParseCommand(name string) (Command, error) {
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("parseCommand: %q: %w", name, ErrUnknownCommand)
}

// LinearDecay decays linearly from Start at episode 0 to End at
// episode Episodes, and stays at End afterwards
type LinearDecay struct {
	Start    float64
	End      float64
	Episodes int
}

// At returns the decayed value at episode
func (l LinearDecay) At(episode int) float64 {
	if l.Episodes < 1 {
		return l.End
	}
	e := floatutils.ClipInterval(float64(episode), r1.Interval{
		Min: 0,
		Max: float64(l.Episodes),
	})
	return l.End + (l.Start-l.End)*(1-e/float64(l.Episodes))
}

// Validate returns an error if the decay is not a valid exploration
// schedule
func (l LinearDecay) Validate() error {
	if l.Start < 0 || l.Start > 1 || l.End < 0 || l.End > 1 {
		return fmt.Errorf("validate: epsilon bounds must be in [0, 1], "+
			"have start %v end %v", l.Start, l.End)
	}
	if l.Episodes < 1 {
		return fmt.Errorf("validate: episodes must be positive, have %v",
			l.Episodes)
	}
	return nil
}
