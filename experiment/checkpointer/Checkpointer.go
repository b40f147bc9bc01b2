// Package checkpointer implements storage for agent checkpoints and
// schedules for taking them
package checkpointer

import (
	"errors"

	"github.com/samuelfneumann/flappydqn/agent"
)

// ErrNotFound is returned by a Store when no checkpoint is saved under
// the requested name
var ErrNotFound = errors.New("checkpoint not found")

// IsNotFound returns whether err was caused by a missing checkpoint
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is where checkpoints are saved and loaded from
type Store = agent.Store

// Schedule determines after which episodes a checkpoint should be
// taken, and under which name
type Schedule interface {
	Due(episode int) (name string, ok bool)
}
