package solver

import (
	"encoding/json"
	"testing"
)

func TestSolverJSON(t *testing.T) {
	adam, err := NewDefaultAdam(0.001, 1)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(adam)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Solver
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != Adam {
		t.Fatalf("type: \n\twant(%v) \n\thave(%v)", Adam, decoded.Type)
	}
	config, ok := decoded.Config.(AdamConfig)
	if !ok {
		t.Fatalf("config: expected AdamConfig, have(%T)", decoded.Config)
	}
	if config.StepSize != 0.001 || config.Beta2 != 0.999 {
		t.Errorf("config: \n\twant(%+v) \n\thave(%+v)", adam.Config, config)
	}
	if decoded.Solver == nil {
		t.Error("unmarshal: gorgonia solver not created")
	}
}

func TestSolverJSONUnknownType(t *testing.T) {
	var s Solver
	err := json.Unmarshal([]byte(`{"Type": "Nesterov", "Config": {}}`), &s)
	if err == nil {
		t.Error("unmarshal: expected error for unknown type")
	}
}

func TestRMSPropValidates(t *testing.T) {
	tests := []struct {
		name                string
		stepSize, rho, clip float64
		batch               int
	}{
		{"step size", 0, 0.9, -1, 1},
		{"rho", 0.01, 1.5, -1, 1},
		{"batch", 0.01, 0.9, -1, 0},
	}
	for _, test := range tests {
		if _, err := NewRMSProp(test.stepSize, 1e-8, test.rho, test.batch,
			test.clip); err == nil {
			t.Errorf("%v: invalid configuration accepted", test.name)
		}
	}
}

func TestRMSPropJSON(t *testing.T) {
	rmsprop, err := NewRMSProp(0.01, 1e-8, 0.9, 1, 5)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(rmsprop)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Solver
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	config, ok := decoded.Config.(RMSPropConfig)
	if !ok {
		t.Fatalf("config: expected RMSPropConfig, have(%T)", decoded.Config)
	}
	if config != rmsprop.Config {
		t.Errorf("config: \n\twant(%+v) \n\thave(%+v)", rmsprop.Config, config)
	}
	if decoded.Solver == nil {
		t.Error("unmarshal: gorgonia solver not created")
	}
}
