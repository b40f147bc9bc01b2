package network

import (
	"testing"

	G "gorgonia.org/gorgonia"
)

// predict runs a forward pass of net on input and returns the output
func predict(t *testing.T, net NeuralNet, input []float64) []float64 {
	t.Helper()

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()

	if err := net.SetInput(input); err != nil {
		t.Fatal(err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	out := net.Output().Data().([]float64)
	cp := make([]float64, len(out))
	copy(cp, out)
	return cp
}

func TestNewMLPShapes(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(5, 3, 2, g, []int{8, 4}, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}

	// weights and bias per hidden layer plus the output layer
	if len(net.Learnables()) != 6 {
		t.Fatalf("learnables: \n\twant(6) \n\thave(%v)",
			len(net.Learnables()))
	}

	out := predict(t, net, make([]float64, 15))
	if len(out) != 6 {
		t.Errorf("output size: \n\twant(6) \n\thave(%v)", len(out))
	}
}

func TestOutputIsLinear(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(1, 1, 1, g, []int{1}, G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}

	// hidden: relu(2x + 0); output: -3h - 1
	err = net.SetWeights([][]float64{{2}, {0}, {-3}, {-1}})
	if err != nil {
		t.Fatal(err)
	}

	out := predict(t, net, []float64{1})
	if out[0] != -7 {
		t.Errorf("prediction: \n\twant(-7) \n\thave(%v)", out[0])
	}

	// Negative pre-activations are rectified in the hidden layer
	out = predict(t, net, []float64{-1})
	if out[0] != -1 {
		t.Errorf("prediction: \n\twant(-1) \n\thave(%v)", out[0])
	}
}

func TestSetWeightsRejectsMismatch(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(2, 1, 2, g, []int{3}, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}
	before := net.Weights()

	bad := net.Weights()
	bad[2] = bad[2][:1]
	bad[0][0] += 10
	if err := net.SetWeights(bad); err == nil {
		t.Fatal("setweights: expected error on size mismatch")
	}

	after := net.Weights()
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				t.Fatalf("setweights: parameters changed on failure")
			}
		}
	}
}

func TestCloneWithBatchCopiesWeights(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(3, 1, 2, g, []int{4}, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}
	clone, err := net.CloneWithBatch(2)
	if err != nil {
		t.Fatal(err)
	}
	if clone.BatchSize() != 2 {
		t.Fatalf("batch size: \n\twant(2) \n\thave(%v)", clone.BatchSize())
	}

	input := []float64{0.1, 0.2, 0.3}
	single := predict(t, net, input)
	batched := predict(t, clone, append(append([]float64{}, input...),
		input...))
	for i := range single {
		if single[i] != batched[i] || single[i] != batched[i+2] {
			t.Errorf("clone prediction: \n\twant(%v) \n\thave(%v)", single,
				batched)
		}
	}
}

func TestGobRoundTrip(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(4, 1, 2, g, []int{6, 5}, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}

	data, err := Encode(net)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Features() != 4 || decoded.Outputs() != 2 {
		t.Fatalf("architecture: \n\twant(4, 2) \n\thave(%v, %v)",
			decoded.Features(), decoded.Outputs())
	}
	hidden := decoded.HiddenSizes()
	if len(hidden) != 2 || hidden[0] != 6 || hidden[1] != 5 {
		t.Fatalf("hidden sizes: \n\twant([6 5]) \n\thave(%v)", hidden)
	}

	input := []float64{0.4, -0.2, 0.9, 0.0}
	want := predict(t, net, input)
	have := predict(t, decoded, input)
	for i := range want {
		if want[i] != have[i] {
			t.Errorf("prediction: \n\twant(%v) \n\thave(%v)", want, have)
		}
	}
}

func TestPolyak(t *testing.T) {
	g := G.NewGraph()
	dest, err := NewMLP(1, 1, 1, g, []int{1}, G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}
	source, err := dest.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if err := source.SetWeights([][]float64{{4}, {4}, {4}, {4}}); err != nil {
		t.Fatal(err)
	}

	if err := dest.Polyak(source, 0.25); err != nil {
		t.Fatal(err)
	}
	for _, w := range dest.Weights() {
		if w[0] != 1 {
			t.Errorf("polyak: \n\twant(1) \n\thave(%v)", w[0])
		}
	}
}
