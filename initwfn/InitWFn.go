// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be JSON serialized into configuraiton files.
package initwfn

import (
	"encoding/json"
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes the weight initialization schemes that are available
type Type string

// Available InitWFn types
const (
	GlorotU Type = "GlorotU"
	HeU     Type = "HeU"
)

// InitWFn wraps Gorgonia InitWFn so that they can be JSON marshalled and
// unmarshalled.
type InitWFn struct {
	initWFn G.InitWFn
	Type
	Config FanConfig
}

// newInitWFn returns a new InitWFn of type t
func newInitWFn(t Type, gain float64) (*InitWFn, error) {
	config := FanConfig{scheme: t, Gain: gain}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newInitWFn: %w", err)
	}

	return &InitWFn{initWFn: config.Create(), Type: t, Config: config}, nil
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (w *InitWFn) InitWFn() G.InitWFn {
	return w.initWFn
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: gain %v}", i.Type, i.Config.Gain)
}

// UnmarshalJSON implements the json.Unmarshaller interface. A missing
// gain defaults to 1.
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   Type
		Config *FanConfig
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	gain := 1.0
	if raw.Config != nil {
		gain = raw.Config.Gain
	}
	init, err := newInitWFn(raw.Type, gain)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	*i = *init
	return nil
}
