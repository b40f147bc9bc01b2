// Package expreplay implements a bounded experience replay buffer
package expreplay

import (
	"fmt"

	"github.com/gammazero/deque"
)

// ExpReplay implements an experience replay buffer of fixed capacity.
// Experiences are evicted first-in-first-out once the buffer is full,
// and batches are drawn uniformly at random without replacement.
//
// ExpReplay is not safe for concurrent use. It is owned by a single
// agent, which is responsible for serialising access.
type ExpReplay struct {
	data     deque.Deque[Experience]
	capacity int
	sampler  Selector
}

// New creates and returns a new ExpReplay which holds at most capacity
// experiences and returns batches of batchSize experiences.
func New(capacity, batchSize int, seed uint64) (*ExpReplay, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new: capacity must be >= 1")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("new: batch size must be >= 1")
	}
	if capacity < batchSize {
		return nil, fmt.Errorf("new: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", batchSize, capacity)
	}

	e := &ExpReplay{
		capacity: capacity,
		sampler:  NewUniformSelector(batchSize, seed),
	}
	e.data.SetMinCapacity(minCapacityExp(capacity))
	return e, nil
}

// minCapacityExp returns the base 2 exponent used to preallocate
// storage for the deque, capped so small buffers do not over allocate
func minCapacityExp(capacity int) uint {
	var exp uint
	for (1<<exp) < capacity && exp < 16 {
		exp++
	}
	return exp
}

// Push appends an experience to the tail of the buffer. If the buffer
// is full, the oldest experience is evicted first.
func (e *ExpReplay) Push(exp Experience) {
	for e.data.Len() >= e.capacity {
		e.data.PopFront()
	}
	e.data.PushBack(exp)
}

// Sample returns BatchSize() experiences drawn uniformly at random
// without replacement. If the buffer holds fewer than BatchSize()
// experiences, an error satisfying IsInsufficientSamples is returned.
func (e *ExpReplay) Sample() ([]Experience, error) {
	if e.Size() < e.BatchSize() {
		return nil, &ExpReplayError{Op: "sample", Err: ErrInsufficientSamples}
	}

	indices := e.sampler.choose(e.Size())
	batch := make([]Experience, len(indices))
	for i, index := range indices {
		batch[i] = e.data.At(index)
	}
	return batch, nil
}

// Size returns the number of experiences currently in the buffer
func (e *ExpReplay) Size() int {
	return e.data.Len()
}

// Capacity returns the maximum number of experiences in the buffer
func (e *ExpReplay) Capacity() int {
	return e.capacity
}

// BatchSize returns the number of experiences returned by Sample()
func (e *ExpReplay) BatchSize() int {
	return e.sampler.BatchSize()
}

// Contents returns a copy of the buffer's experiences, oldest first
func (e *ExpReplay) Contents() []Experience {
	out := make([]Experience, e.data.Len())
	for i := range out {
		out[i] = e.data.At(i)
	}
	return out
}

// String returns the string representation of the buffer
func (e *ExpReplay) String() string {
	return fmt.Sprintf("ExpReplay | Size: %v  |  Capacity: %v  |  "+
		"Batch Size: %v", e.Size(), e.Capacity(), e.BatchSize())
}
