// Package network implements feed forward value function
// approximators over gorgonia computational graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a feed forward network built into a computational
// graph with a fixed input batch size.
//
// A NeuralNet only builds graph nodes; running the graph is done by a
// G.VM owned by the caller. After the VM has run, Output() holds the
// predictions for the last input set with SetInput().
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() int
	HiddenSizes() []int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node
	Weights() [][]float64
	SetWeights([][]float64) error
}
