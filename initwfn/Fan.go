package initwfn

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// FanConfig configures a uniform initializer scaled by the fan of
// each weight matrix. Glorot scales by fan in and fan out, He by fan
// in only.
type FanConfig struct {
	scheme Type
	Gain   float64
}

// NewGlorotU returns a new Glorot Uniform weight initializer
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotU, gain)
}

// NewHeU returns a new He Uniform weight initializer
func NewHeU(gain float64) (*InitWFn, error) {
	return newInitWFn(HeU, gain)
}

// Validate returns an error if the configuration cannot create an
// initializer
func (f FanConfig) Validate() error {
	if f.scheme != GlorotU && f.scheme != HeU {
		return fmt.Errorf("validate: unknown initializer type %q", f.scheme)
	}
	if f.Gain <= 0 {
		return fmt.Errorf("validate: gain must be positive \n\thave(%v)",
			f.Gain)
	}
	return nil
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (f FanConfig) Create() G.InitWFn {
	if f.scheme == HeU {
		return G.HeU(f.Gain)
	}
	return G.GlorotU(f.Gain)
}
