// Package deepq implements the deep Q-learning algorithm with
// experience replay, an epsilon greedy behaviour policy, and the Huber
// loss.
package deepq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/agent"
	"github.com/samuelfneumann/flappydqn/agent/policy"
	"github.com/samuelfneumann/flappydqn/expreplay"
	"github.com/samuelfneumann/flappydqn/network"
	"github.com/samuelfneumann/flappydqn/solver"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DeepQ implements the deep Q-learning algorithm using the Huber loss.
//
// DeepQ keeps three copies of its network: a policy network with a
// batch size of 1 for selecting actions, a training network whose
// weights are learned, and a target network that provides the update
// target. After each update the policy network is set to the weights
// of the training network.
//
// DeepQ is meant to be driven from a single goroutine. An in-flight
// guard rejects a second OptimizeModel, Checkpoint, or Restore that
// starts while one is running, rather than letting them race on the
// weights and replay buffer.
type DeepQ struct {
	mu     sync.Mutex
	logger zerolog.Logger

	// Policy network for selecting actions
	policyNet network.NeuralNet
	policyVM  G.VM
	policy    *policy.EGreedy

	// Network whose weights are adapted
	trainNet network.NeuralNet
	trainVM  G.VM
	solver   *solver.Solver

	// Network that provides the update target
	targetNet network.NeuralNet
	targetVM  G.VM

	// Variables to track target network updates
	tau                  float64 // Polyak averaging constant
	targetUpdateInterval int     // Updates between target updates
	gradientSteps        int

	// Input nodes of the training graph. For an update on transition
	// (s, a, r, s', done), the target is
	//
	// r + γ * (1 - done) * max[Q(s', a')]
	//
	// nextStateActionValues holds Q(s', ⋅) computed by targetNet and
	// continues holds γ * (1 - done). Since the target is given to the
	// graph as data, no gradient flows through it.
	selectedActions       *G.Node
	nextStateActionValues *G.Node
	rewards               *G.Node
	continues             *G.Node
	weights               *G.Node
	lossVal               *G.Value

	replay *expreplay.ExpReplay

	gamma      float64
	numActions int
	features   int
	batchSize  int
	loss       float64
}

// New creates and returns a new DeepQ agent
func New(config Config) (*DeepQ, error) {
	// Ensure the configuration is valid
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	batchSize := config.BatchSize
	numActions := config.Actions
	features := config.Features

	// Policy network for selecting actions
	g := G.NewGraph()
	policyNet, err := network.NewMLP(features, 1, numActions, g,
		config.HiddenSizes, config.InitWFn.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy network: %v",
			err)
	}
	policyVM := G.NewTapeMachine(g)

	egreedy, err := policy.NewEGreedy(numActions, config.ExploreFraction,
		config.Seed)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Create the target network which provides the update target
	targetNet, err := policyNet.CloneWithBatch(batchSize)
	if err != nil {
		msg := "new: could not create target network: %v"
		return nil, fmt.Errorf(msg, err)
	}
	targetVM := G.NewTapeMachine(targetNet.Graph())

	// Create a training network which learns the weights
	trainNet, err := policyNet.CloneWithBatch(batchSize)
	if err != nil {
		msg := "new: could not create learning network: %v"
		return nil, fmt.Errorf(msg, err)
	}
	gTrain := trainNet.Graph()

	// Create nodes to compute the update target:
	// r + γ * (1 - done) * max[Q(s', a')]
	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetActionVals"))
	rewards := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"))
	continues := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("continue"))

	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, continues))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// Action selected in the previous state as a one-hot row. This is
	// needed to compute the loss using the correct action value since
	// the network outputs one value per action.
	selectedActions := G.NewMatrix(
		gTrain,
		tensor.Float64,
		G.WithName("actionSelected"),
		G.WithShape(batchSize, numActions),
	)
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Each row of the batch is weighted by 1 / (number of valid rows),
	// or 0 if the row was dropped, so the cost is the mean Huber loss
	// over the valid rows
	weights := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("weight"))

	errs := G.Must(G.Sub(updateTarget, selectedActionsValue))
	losses, err := HuberLoss(errs)
	if err != nil {
		panic(fmt.Sprintf("new: could not compute loss: %v", err))
	}
	losses = G.Must(G.HadamardProd(losses, weights))
	cost := G.Must(G.Sum(losses))

	lossVal := new(G.Value)
	G.Read(cost, lossVal)

	// Compute the gradient with respect to the Huber loss
	_, err = G.Grad(cost, trainNet.Learnables()...)
	if err != nil {
		msg := fmt.Sprintf("new: could not compute gradient: %v", err)
		panic(msg)
	}

	// Compile the trainNet graph into a VM
	trainVM := G.NewTapeMachine(
		gTrain,
		G.BindDualValues(trainNet.Learnables()...),
	)

	replay, err := expreplay.New(config.Capacity, batchSize, config.Seed)
	if err != nil {
		msg := "new: could not create experience replay buffer: %v"
		return nil, fmt.Errorf(msg, err)
	}

	d := &DeepQ{
		logger:                config.Logger,
		policyNet:             policyNet,
		policyVM:              policyVM,
		policy:                egreedy,
		trainNet:              trainNet,
		trainVM:               trainVM,
		solver:                config.Solver.Fresh(),
		targetNet:             targetNet,
		targetVM:              targetVM,
		tau:                   config.Tau,
		targetUpdateInterval:  config.TargetUpdateInterval,
		selectedActions:       selectedActions,
		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		continues:             continues,
		weights:               weights,
		replay:                replay,
		gamma:                 config.Gamma,
		numActions:            numActions,
		features:              features,
		batchSize:             batchSize,
		lossVal:               lossVal,
	}

	return d, nil
}

// Act returns an action for obs. With probability epsilon the action
// is exploratory, otherwise it is the action of highest predicted
// value.
func (d *DeepQ) Act(obs []float64, epsilon float64) (int, error) {
	if len(obs) != d.features {
		return 0, fmt.Errorf("act: invalid observation length \n\twant(%v) "+
			"\n\thave(%v)", d.features, len(obs))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.policy.Explore(epsilon) {
		return d.policy.Random(), nil
	}

	values, err := d.predict(obs)
	if err != nil {
		return 0, fmt.Errorf("act: %v", err)
	}
	return d.policy.Greedy(values), nil
}

// Predict returns the predicted action values for each observation
func (d *DeepQ) Predict(obs [][]float64) ([][]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]float64, len(obs))
	for i, o := range obs {
		if len(o) != d.features {
			return nil, fmt.Errorf("predict: invalid observation length "+
				"\n\twant(%v) \n\thave(%v)", d.features, len(o))
		}

		values, err := d.predict(o)
		if err != nil {
			return nil, fmt.Errorf("predict: %v", err)
		}
		out[i] = values
	}
	return out, nil
}

// predict runs the policy network on a single observation. The caller
// must hold d.mu.
func (d *DeepQ) predict(obs []float64) ([]float64, error) {
	input := make([]float64, len(obs))
	copy(input, obs)

	if err := d.policyNet.SetInput(input); err != nil {
		return nil, err
	}
	defer d.policyVM.Reset()
	if err := d.policyVM.RunAll(); err != nil {
		return nil, err
	}

	values := d.policyNet.Output().Data().([]float64)
	out := make([]float64, len(values))
	copy(out, values)
	return out, nil
}

// Remember adds an experience to the replay buffer
func (d *DeepQ) Remember(e expreplay.Experience) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replay.Push(e)
}

// BufferSize returns the number of experiences in the replay buffer
func (d *DeepQ) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replay.Size()
}

// Loss returns the loss of the most recent update
func (d *DeepQ) Loss() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loss
}

// OptimizeModel performs one update of the weights on a batch sampled
// from the replay buffer.
//
// If the buffer holds fewer experiences than one batch, OptimizeModel
// does nothing and returns nil. Malformed experiences are logged and
// dropped from the batch. If no experience in the batch is valid,
// the weights are left unchanged and an error wrapping ErrEmptyBatch
// is returned.
func (d *DeepQ) OptimizeModel() error {
	if !d.mu.TryLock() {
		return fmt.Errorf("optimizemodel: %w", ErrInFlight)
	}
	defer d.mu.Unlock()

	batch, err := d.replay.Sample()
	if expreplay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("optimizemodel: could not sample: %v", err)
	}

	S, A, R, C, NextS, W, valid := d.unpack(batch)
	if valid == 0 {
		d.logger.Error().
			Int("batch_size", len(batch)).
			Msg("every sampled experience was malformed")
		return fmt.Errorf("optimizemodel: %w", ErrEmptyBatch)
	}

	// Predict the action values in the next state NextS
	if err := d.targetNet.SetInput(NextS); err != nil {
		return fmt.Errorf("optimizemodel: could not set target net input: "+
			"%v", err)
	}
	nextValues, err := d.runTarget()
	if err != nil {
		return fmt.Errorf("optimizemodel: %v", err)
	}

	inputs := []struct {
		node  *G.Node
		value *tensor.Dense
	}{
		{d.nextStateActionValues, nextValues},
		{d.selectedActions, tensor.New(
			tensor.WithShape(d.batchSize, d.numActions),
			tensor.WithBacking(A),
		)},
		{d.rewards, tensor.New(tensor.WithShape(d.batchSize),
			tensor.WithBacking(R))},
		{d.continues, tensor.New(tensor.WithShape(d.batchSize),
			tensor.WithBacking(C))},
		{d.weights, tensor.New(tensor.WithShape(d.batchSize),
			tensor.WithBacking(W))},
	}
	for _, in := range inputs {
		if err := G.Let(in.node, in.value); err != nil {
			return fmt.Errorf("optimizemodel: could not set %v: %v",
				in.node.Name(), err)
		}
	}

	// Predict the action values in state S
	if err := d.trainNet.SetInput(S); err != nil {
		return fmt.Errorf("optimizemodel: could not set trainNet input: %v",
			err)
	}

	// Run the learning step
	if err := d.step(); err != nil {
		return fmt.Errorf("optimizemodel: %v", err)
	}
	d.gradientSteps++

	// Update the target network by setting its weights to the newly
	// learned weights
	if d.gradientSteps%d.targetUpdateInterval == 0 {
		if d.tau == 1.0 {
			err = d.targetNet.Set(d.trainNet)
		} else {
			err = d.targetNet.Polyak(d.trainNet, d.tau)
		}
		if err != nil {
			return fmt.Errorf("optimizemodel: could not update target "+
				"network: %v", err)
		}
	}

	if err := d.policyNet.Set(d.trainNet); err != nil {
		return fmt.Errorf("optimizemodel: could not update policy: %v", err)
	}
	return nil
}

// runTarget runs the target network and returns a copy of its output
func (d *DeepQ) runTarget() (*tensor.Dense, error) {
	defer d.targetVM.Reset()
	if err := d.targetVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run target network: %v", err)
	}
	return d.targetNet.Output().(*tensor.Dense).Clone().(*tensor.Dense), nil
}

// step runs the training graph and takes one solver step
func (d *DeepQ) step() error {
	defer d.trainVM.Reset()
	if err := d.trainVM.RunAll(); err != nil {
		return fmt.Errorf("could not run training network: %v", err)
	}
	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		return fmt.Errorf("could not step solver: %v", err)
	}
	if *d.lossVal != nil {
		d.loss = (*d.lossVal).Data().(float64)
	}
	return nil
}

// unpack lays a batch out as the row-major inputs of the training
// graph: states, one-hot actions, rewards, continuation discounts,
// next states, and row weights. Malformed experiences are logged and
// left as zero rows of weight 0. The number of valid rows is returned.
func (d *DeepQ) unpack(batch []expreplay.Experience) (S, A, R, C, NextS,
	W []float64, valid int) {
	S = make([]float64, d.batchSize*d.features)
	NextS = make([]float64, d.batchSize*d.features)
	A = make([]float64, d.batchSize*d.numActions)
	R = make([]float64, d.batchSize)
	C = make([]float64, d.batchSize)
	W = make([]float64, d.batchSize)

	for i, e := range batch {
		if err := e.Validate(d.features, d.numActions); err != nil {
			d.logger.Warn().
				Err(err).
				Int("index", i).
				Msg("dropping malformed experience")
			continue
		}

		copy(S[i*d.features:(i+1)*d.features], e.Observation)
		copy(NextS[i*d.features:(i+1)*d.features], e.NextObservation)
		A[i*d.numActions+e.Action] = 1.0
		R[i] = e.Reward
		if !e.Done {
			C[i] = d.gamma
		}
		W[i] = 1.0
		valid++
	}

	for i := range W {
		W[i] /= float64(max(valid, 1))
	}
	return
}

// Checkpoint returns the encoded architecture and weights of the
// agent's network
func (d *DeepQ) Checkpoint() ([]byte, error) {
	if !d.mu.TryLock() {
		return nil, fmt.Errorf("checkpoint: %w", ErrInFlight)
	}
	defer d.mu.Unlock()

	data, err := network.Encode(d.policyNet)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: could not encode network: %v",
			err)
	}
	return data, nil
}

// Restore sets the agent's weights from a checkpoint produced by
// Checkpoint. If the checkpoint cannot be decoded or describes a
// network of a different shape, the weights are left unchanged.
func (d *DeepQ) Restore(data []byte) error {
	net, err := network.Decode(data)
	if err != nil {
		return fmt.Errorf("restore: %w: %v", ErrMalformed, err)
	}

	if !d.mu.TryLock() {
		return fmt.Errorf("restore: %w", ErrInFlight)
	}
	defer d.mu.Unlock()

	if !d.compatible(net) {
		return fmt.Errorf("restore: %w: have %v -> %v -> %v, checkpoint "+
			"%v -> %v -> %v", ErrArchitecture, d.features,
			d.policyNet.HiddenSizes(), d.numActions, net.Features(),
			net.HiddenSizes(), net.Outputs())
	}

	weights := net.Weights()
	for _, n := range []network.NeuralNet{d.policyNet, d.trainNet,
		d.targetNet} {
		if err := n.SetWeights(weights); err != nil {
			panic(fmt.Sprintf("restore: compatible network rejected "+
				"weights: %v", err))
		}
	}

	// Moment estimates belong to the old weights
	d.solver = d.solver.Fresh()
	return nil
}

// compatible returns whether net has the same architecture as the
// agent's networks
func (d *DeepQ) compatible(net network.NeuralNet) bool {
	if net.Features() != d.features || net.Outputs() != d.numActions {
		return false
	}
	have, want := net.HiddenSizes(), d.policyNet.HiddenSizes()
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if have[i] != want[i] {
			return false
		}
	}
	return true
}

// Save writes a checkpoint of the agent to store under name
func (d *DeepQ) Save(ctx context.Context, store agent.Store,
	name string) error {
	data, err := d.Checkpoint()
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := store.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load restores the agent from the checkpoint in store under name. On
// any failure the agent's weights are left unchanged.
func (d *DeepQ) Load(ctx context.Context, store agent.Store,
	name string) error {
	data, err := store.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := d.Restore(data); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface
func (d *DeepQ) GobEncode() ([]byte, error) {
	return d.Checkpoint()
}

// GobDecode implements the gob.GobDecoder interface. The agent must
// already have been constructed with New.
func (d *DeepQ) GobDecode(in []byte) error {
	if d.policyNet == nil {
		return errors.New("gobdecode: agent must be created with New " +
			"before decoding")
	}
	return d.Restore(in)
}

// Weights returns a copy of the weights of the agent's network
func (d *DeepQ) Weights() [][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policyNet.Weights()
}

// Features returns the observation length the agent expects
func (d *DeepQ) Features() int {
	return d.features
}

// NumActions returns the number of actions the agent chooses between
func (d *DeepQ) NumActions() int {
	return d.numActions
}

// Close releases the resources held by the agent's VMs
func (d *DeepQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, vm := range []G.VM{d.policyVM, d.trainVM, d.targetVM} {
		if err := vm.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Check that DeepQ implements agent.Checkpointer
var _ agent.Checkpointer = &DeepQ{}
