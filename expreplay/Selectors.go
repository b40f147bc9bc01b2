package expreplay

import (
	"golang.org/x/exp/rand"
)

// Selector implements functionality for choosing which indices of an
// experience replay buffer should be sampled
type Selector interface {
	// choose selects the indices at which data should be sampled from
	// a buffer holding size elements
	choose(size int) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly without replacement
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly from an experience replay buffer. Within a single call to
// choose, no index is selected twice.
func NewUniformSelector(samples int, seed uint64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{samples: samples, rng: rng}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose draws a random permutation of all indices and keeps the
// first BatchSize of them
func (u *uniformSelector) choose(size int) []int {
	perm := u.rng.Perm(size)
	if len(perm) > u.samples {
		perm = perm[:u.samples]
	}
	return perm
}
