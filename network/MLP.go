package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// mlp implements a multi-layered perceptron with one output node per
// discrete action. Every hidden layer uses a ReLU activation and the
// output layer is linear, so predicted values may be negative.
type mlp struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	// Data needed for gobbing
	hiddenSizes []int

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    *G.Value
}

// NewMLP creates and returns a new multi-layered perceptron with
// outputs output nodes. The graph parameter g is populated with the
// MLP, which takes batch observations of features features each as
// input.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1, where
// hiddenSizes[i] is the number of units in hidden layer i. Each layer
// has a bias unit. The parameter init determines the weight
// initialization scheme; biases are initialized to zero.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, init G.InitWFn) (NeuralNet, error) {
	if features < 1 || outputs < 1 || batch < 1 {
		return nil, fmt.Errorf("newmlp: features, outputs, and batch must "+
			"be positive \n\thave(%v, %v, %v)", features, outputs, batch)
	}
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newmlp: at least one hidden layer required")
	}
	for i, size := range hiddenSizes {
		if size < 1 {
			return nil, fmt.Errorf("newmlp: hidden layer %v has size %v",
				i, size)
		}
	}

	// Set up the input node
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	layers := addfcLayers(g, features, outputs, hiddenSizes, init)

	hidden := make([]int, len(hiddenSizes))
	copy(hidden, hiddenSizes)

	// Create the network and run the forward pass on the input node
	network := mlp{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hidden,
	}
	_, err := network.fwd(input)
	if err != nil {
		msg := "newmlp: could not compute forward pass: %v"
		return nil, fmt.Errorf(msg, err)
	}

	return &network, nil
}

// addfcLayers adds the hidden ReLU layers and the final linear layer
// to the graph g
func addfcLayers(g *G.ExprGraph, features, outputs int, hiddenSizes []int,
	init G.InitWFn) []Layer {
	layers := make([]Layer, 0, len(hiddenSizes)+1)

	in := features
	for i, size := range hiddenSizes {
		name := fmt.Sprintf("L%d", i)
		layers = append(layers, newFCLayer(g, in, size, ReLU(), init, name))
		in = size
	}
	layers = append(layers, newFCLayer(g, in, outputs, Identity(), init,
		"Out"))

	return layers
}

// Graph returns the computational graph of the mlp.
func (e *mlp) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones an mlp
func (e *mlp) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones an mlp to a new graph with a new input batch
// size. The clone starts with the same weights as e but shares no
// nodes with it.
func (e *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("clonewithbatch: batch size must be positive")
	}
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	// Copy fully connected layers
	l := make([]Layer, len(e.layers))
	for i := range e.layers {
		l[i] = e.layers[i].CloneTo(graph)
	}

	network := mlp{
		g:           graph,
		layers:      l,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
	}
	_, err := network.fwd(input)
	if err != nil {
		msg := fmt.Sprintf("clonewithbatch: could not clone: %v", err)
		panic(msg)
	}

	return &network, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *mlp) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input.
func (e *mlp) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *mlp) Outputs() int {
	return e.numOutputs
}

// HiddenSizes returns the number of units in each hidden layer
func (e *mlp) HiddenSizes() []int {
	out := make([]int, len(e.hiddenSizes))
	copy(out, e.hiddenSizes)
	return out
}

// SetInput sets the value of the input node before running the forward
// pass. The input must be a row-major BatchSize() x Features() matrix.
func (e *mlp) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		msg := fmt.Sprintf("invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", e.numInputs*e.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of an mlp to be equal to the weights of another
// mlp
func (dest *mlp) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: incompatible networks \n\twant(%v layers) "+
			"\n\thave(%v layers)", len(nodes), len(sourceNodes))
	}

	for i, destLearnable := range nodes {
		if !destLearnable.Shape().Eq(sourceNodes[i].Shape()) {
			return fmt.Errorf("set: incompatible shapes \n\twant(%v) "+
				"\n\thave(%v)", destLearnable.Shape(), sourceNodes[i].Shape())
		}
	}

	for i, destLearnable := range nodes {
		sourceValue := sourceNodes[i].Value().(*tensor.Dense).Clone()
		err := G.Let(destLearnable, sourceValue)
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of an mlp to be a polyak average between
// its existing weights and the weights of another mlp
func (dest *mlp) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in an mlp
func (m *mlp) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		m.learnables = m.computeLearnables()
	}
	return m.learnables
}

// computeLearnables computes all the learnables for the network, in
// the order weights then bias for each layer
func (e *mlp) computeLearnables() G.Nodes {
	learnables := make([]*G.Node, 0, 2*len(e.layers))

	for i := range e.layers {
		learnables = append(learnables, e.layers[i].Weights())
		learnables = append(learnables, e.layers[i].Bias())
	}
	return G.Nodes(learnables)
}

// Model returns the learnables nodes with their gradients.
func (m *mlp) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		m.model = m.computeModel()
	}
	return m.model
}

// computeModel computes the model for the network
func (e *mlp) computeModel() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, 2*len(e.layers))
	for _, node := range e.Learnables() {
		model = append(model, node)
	}
	return model
}

// Weights returns a copy of each learnable parameter, flattened in
// row-major order, in the same order as Learnables()
func (e *mlp) Weights() [][]float64 {
	learnables := e.Learnables()
	weights := make([][]float64, len(learnables))
	for i, node := range learnables {
		data := node.Value().Data().([]float64)
		weights[i] = make([]float64, len(data))
		copy(weights[i], data)
	}
	return weights
}

// SetWeights sets each learnable parameter from a flattened copy in
// the format returned by Weights(). Either all parameters are set or,
// if any shape does not match, none are.
func (e *mlp) SetWeights(weights [][]float64) error {
	learnables := e.Learnables()
	if len(weights) != len(learnables) {
		return fmt.Errorf("setweights: invalid number of parameters "+
			"\n\twant(%v) \n\thave(%v)", len(learnables), len(weights))
	}
	for i, node := range learnables {
		if len(weights[i]) != node.Shape().TotalSize() {
			return fmt.Errorf("setweights: invalid size for parameter %v "+
				"\n\twant(%v) \n\thave(%v)", i, node.Shape().TotalSize(),
				len(weights[i]))
		}
	}

	for i, node := range learnables {
		backing := make([]float64, len(weights[i]))
		copy(backing, weights[i])
		t := tensor.New(
			tensor.WithBacking(backing),
			tensor.WithShape(node.Shape()...),
		)
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("setweights: could not set parameter %v: %v",
				i, err)
		}
	}
	return nil
}

// fwd performs the forward pass of the mlp on the input node
func (e *mlp) fwd(input *G.Node) (*G.Node, error) {
	inputShape := input.Shape()[len(input.Shape())-1]
	if inputShape != e.numInputs {
		return nil, fmt.Errorf("fwd: invalid shape for input to neural net:"+
			" \n\twant(%v) \n\thave(%v)", e.numInputs, inputShape)
	}

	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred

	// The read target is heap allocated so that copies of the mlp
	// still observe the values produced by the graph
	e.predVal = new(G.Value)
	G.Read(e.prediction, e.predVal)

	return pred, nil
}

// Output returns the output of the mlp after the graph has been run
func (e *mlp) Output() G.Value {
	return *e.predVal
}

// Prediction returns the node of the computational graph the stores
// the output of the mlp
func (e *mlp) Prediction() *G.Node {
	return e.prediction
}

// GobEncode implements the gob.GobEncoder interface. The encoding
// holds the architecture of the network as well as its weights.
func (e *mlp) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	err := enc.Encode(e.numOutputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of outputs")
	}

	err = enc.Encode(e.numInputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}

	err = enc.Encode(e.BatchSize())
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}

	err = enc.Encode(e.hiddenSizes)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}

	err = enc.Encode(e.Weights())
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weights: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The decoded
// network lives on a new computational graph.
func (e *mlp) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numOutputs int
	err := dec.Decode(&numOutputs)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode number of outputs")
	}

	var numInputs int
	err = dec.Decode(&numInputs)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}

	var batchSize int
	err = dec.Decode(&batchSize)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}

	var hiddenSizes []int
	err = dec.Decode(&hiddenSizes)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var weights [][]float64
	err = dec.Decode(&weights)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode weights")
	}

	// Create a new MLP and fill its layers with the decoded weights
	g := G.NewGraph()
	newNet, err := NewMLP(numInputs, batchSize, numOutputs, g, hiddenSizes,
		G.Zeroes())
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v", err)
	}
	if err := newNet.SetWeights(weights); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	newMLP, ok := newNet.(*mlp)
	if !ok {
		panic("NewMLP() returned type != mlp")
	}
	*e = *newMLP
	return nil
}

// Decode decodes a network from bytes produced by gob encoding a
// NeuralNet returned by NewMLP
func Decode(data []byte) (NeuralNet, error) {
	var net mlp
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&net); err != nil {
		return nil, err
	}
	return &net, nil
}

// Encode gob encodes a NeuralNet returned by NewMLP
func Encode(net NeuralNet) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
