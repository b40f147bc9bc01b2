package experiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/agent"
	"github.com/samuelfneumann/flappydqn/agent/deepq"
	"github.com/samuelfneumann/flappydqn/experiment/checkpointer"
	"github.com/samuelfneumann/flappydqn/experiment/tracker"
	"github.com/samuelfneumann/flappydqn/expreplay"
	"github.com/samuelfneumann/flappydqn/timestep"
)

// fakeEnv ends every episode after length steps with a reward of 1 on
// each step
type fakeEnv struct {
	length  int
	n       int
	resets  int
	done    bool
	scoring bool // Score is the step number
	nanAt   int  // Step whose observation holds a NaN, 0 for none
	actions []int
}

func (f *fakeEnv) Reset() {
	f.n = 0
	f.done = false
	f.resets++
}

func (f *fakeEnv) Step(action int) (timestep.TimeStep, error) {
	if f.done {
		return timestep.TimeStep{}, fmt.Errorf("step: episode is done")
	}
	f.actions = append(f.actions, action)
	f.n++

	obs := f.Observation()
	if f.n == f.nanAt {
		obs[1] = math.NaN()
	}
	step := timestep.New(timestep.Mid, 1, obs, f.n)
	if f.n >= f.length {
		f.done = true
		step.SetEnd(timestep.Terminal)
	}
	return step, nil
}

func (f *fakeEnv) Observation() []float64 { return []float64{float64(f.n), 0} }
func (f *fakeEnv) IsDone() bool           { return f.done }
func (f *fakeEnv) NumActions() int        { return 2 }
func (f *fakeEnv) ObservationSize() int   { return 2 }

func (f *fakeEnv) Score() int {
	if f.scoring {
		return f.n
	}
	return 0
}

// fakeAgent records how the session uses it. Its checkpoint is the
// weights field.
type fakeAgent struct {
	experiences []expreplay.Experience
	epsilons    []float64
	optimizes   int
	optErr      error
	weights     []byte
}

var _ agent.Checkpointer = &fakeAgent{}

func (f *fakeAgent) Act(_ []float64, epsilon float64) (int, error) {
	f.epsilons = append(f.epsilons, epsilon)
	return 0, nil
}

func (f *fakeAgent) Predict(obs [][]float64) ([][]float64, error) {
	return nil, nil
}

func (f *fakeAgent) Remember(e expreplay.Experience) {
	f.experiences = append(f.experiences, e)
}

func (f *fakeAgent) OptimizeModel() error {
	f.optimizes++
	return f.optErr
}

func (f *fakeAgent) Loss() float64   { return 0 }
func (f *fakeAgent) BufferSize() int { return len(f.experiences) }

func (f *fakeAgent) Checkpoint() ([]byte, error) {
	return append([]byte(nil), f.weights...), nil
}

func (f *fakeAgent) Restore(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("restore: empty checkpoint")
	}
	f.weights = append([]byte(nil), data...)
	return nil
}

func (f *fakeAgent) Save(ctx context.Context, store agent.Store,
	name string) error {
	return store.Save(ctx, name, f.weights)
}

func (f *fakeAgent) Load(ctx context.Context, store agent.Store,
	name string) error {
	data, err := store.Load(ctx, name)
	if err != nil {
		return err
	}
	return f.Restore(data)
}

// memStore is an in-memory Store. If gate is not nil, every operation
// blocks until gate is closed.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, name string, data []byte) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Load(_ context.Context, name string) ([]byte, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[name]
	if !ok {
		return nil, fmt.Errorf("load: %v: %w", name, checkpointer.ErrNotFound)
	}
	return data, nil
}

func (m *memStore) get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[name]
	return data, ok
}

func testConfig(episodes int) Config {
	return Config{
		Epsilon:        LinearDecay{Start: 1.0, End: 0.0, Episodes: episodes},
		CheckpointName: "agent.ckpt",
		Training:       true,
		Logger:         zerolog.Nop(),
	}
}

func newTestSession(t *testing.T, env *fakeEnv, a *fakeAgent,
	store *memStore, c Config) *Session {
	t.Helper()
	s, err := New(env, a, store, c)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tick(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLinearDecay(t *testing.T) {
	d := LinearDecay{Start: 1.0, End: 0.05, Episodes: 500}

	tests := []struct {
		episode int
		want    float64
	}{
		{0, 1.0},
		{250, 0.525},
		{500, 0.05},
		{750, 0.05},
		{-1, 1.0},
	}
	for _, test := range tests {
		if have := d.At(test.episode); math.Abs(have-test.want) > 1e-12 {
			t.Errorf("at(%v): \n\twant(%v) \n\thave(%v)", test.episode,
				test.want, have)
		}
	}

	for e := 1; e <= d.Episodes; e++ {
		if d.At(e) > d.At(e-1) {
			t.Fatalf("at: increased from episode %v to %v", e-1, e)
		}
	}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range []Command{ToggleTraining, ToggleAIControl,
		SaveCheckpoint, LoadCheckpoint, ToggleSensorOverlay, Flap} {
		have, err := ParseCommand(cmd.String())
		if err != nil {
			t.Fatal(err)
		}
		if have != cmd {
			t.Errorf("parsecommand: \n\twant(%v) \n\thave(%v)", cmd, have)
		}
	}

	if _, err := ParseCommand("jump"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("parsecommand: \n\twant(%v) \n\thave(%v)",
			ErrUnknownCommand, err)
	}
}

func TestTerminalBookkeeping(t *testing.T) {
	env := &fakeEnv{length: 3}
	a := &fakeAgent{}
	returns := tracker.NewReturn("")
	c := testConfig(10)
	c.Trackers = []tracker.Tracker{returns}
	s := newTestSession(t, env, a, newMemStore(), c)

	tick(t, s, 2)
	if stats := s.Stats(); stats.Steps != 2 || stats.Return != 2 {
		t.Fatalf("stats: \n\twant(2 steps, return 2) \n\thave(%v, %v)",
			stats.Steps, stats.Return)
	}

	tick(t, s, 1)
	stats := s.Stats()
	if stats.Episode != 1 {
		t.Errorf("episode: \n\twant(1) \n\thave(%v)", stats.Episode)
	}
	if stats.Steps != 0 || stats.Return != 0 || stats.LastReturn != 3 {
		t.Errorf("accumulators: \n\twant(0, 0, 3) \n\thave(%v, %v, %v)",
			stats.Steps, stats.Return, stats.LastReturn)
	}
	if s.State() != AwaitingReset {
		t.Errorf("state: \n\twant(%v) \n\thave(%v)", AwaitingReset, s.State())
	}

	if len(a.experiences) != 3 {
		t.Fatalf("experiences: \n\twant(3) \n\thave(%v)", len(a.experiences))
	}
	for i, e := range a.experiences {
		if e.Done != (i == 2) {
			t.Errorf("experience %d: \n\twant(done=%v) \n\thave(%v)", i,
				i == 2, e.Done)
		}
	}
	if a.experiences[1].Observation[0] != 1 ||
		a.experiences[1].NextObservation[0] != 2 {
		t.Errorf("experience 1: observations out of order: %v", a.experiences[1])
	}
	if a.optimizes != 3 {
		t.Errorf("optimizes: \n\twant(3) \n\thave(%v)", a.optimizes)
	}

	// Zero reset delay resets on the next tick
	tick(t, s, 1)
	if env.resets != 1 || s.State() != Running {
		t.Fatalf("reset: \n\twant(1, %v) \n\thave(%v, %v)", Running,
			env.resets, s.State())
	}

	tick(t, s, 3)
	if s.Episode() != 2 {
		t.Errorf("episode: \n\twant(2) \n\thave(%v)", s.Episode())
	}
	if have := returns.Returns(); len(have) != 2 || have[1] != 3 {
		t.Errorf("returns: \n\twant([3 3]) \n\thave(%v)", have)
	}
}

func TestResetDelay(t *testing.T) {
	env := &fakeEnv{length: 1}
	c := testConfig(10)
	c.ResetDelay = 300 * time.Millisecond
	s := newTestSession(t, env, &fakeAgent{}, newMemStore(), c)

	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }

	tick(t, s, 1)
	now = now.Add(299 * time.Millisecond)
	tick(t, s, 1)
	if env.resets != 0 || s.State() != AwaitingReset {
		t.Fatalf("reset: environment reset before the delay")
	}

	now = now.Add(time.Millisecond)
	tick(t, s, 1)
	if env.resets != 1 || s.State() != Running {
		t.Errorf("reset: environment not reset after the delay")
	}
}

func TestEpsilonDecaysPerEpisode(t *testing.T) {
	env := &fakeEnv{length: 1}
	a := &fakeAgent{}
	s := newTestSession(t, env, a, newMemStore(), testConfig(4))

	// Each episode takes a step tick and a reset tick
	tick(t, s, 5)

	want := []float64{1.0, 0.75, 0.5}
	if len(a.epsilons) != len(want) {
		t.Fatalf("epsilons: \n\twant(%v) \n\thave(%v)", want, a.epsilons)
	}
	for i := range want {
		if math.Abs(a.epsilons[i]-want[i]) > 1e-12 {
			t.Errorf("epsilons: \n\twant(%v) \n\thave(%v)", want, a.epsilons)
		}
	}
}

func TestFinishSavesCheckpoint(t *testing.T) {
	env := &fakeEnv{length: 1}
	a := &fakeAgent{weights: []byte("trained")}
	store := newMemStore()
	s := newTestSession(t, env, a, store, testConfig(2))

	tick(t, s, 3)
	if s.State() != Finished {
		t.Fatalf("state: \n\twant(%v) \n\thave(%v)", Finished, s.State())
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, ok := store.get("agent.ckpt")
	if !ok || !bytes.Equal(data, a.weights) {
		t.Errorf("checkpoint: \n\twant(%s) \n\thave(%s)", a.weights, data)
	}
	if stats := s.Stats(); stats.Training || stats.AIControl {
		t.Error("finish: training still enabled")
	}

	steps := env.n
	tick(t, s, 3)
	if env.n != steps {
		t.Error("tick: finished session stepped the environment")
	}
	err := s.Handle(context.Background(), ToggleTraining)
	if !errors.Is(err, ErrFinished) {
		t.Errorf("handle: \n\twant(%v) \n\thave(%v)", ErrFinished, err)
	}
}

func TestScoreThreshold(t *testing.T) {
	env := &fakeEnv{length: 10, scoring: true}
	a := &fakeAgent{weights: []byte("good")}
	store := newMemStore()
	c := testConfig(100)
	c.ScoreThreshold = 2
	s := newTestSession(t, env, a, store, c)

	tick(t, s, 1)
	if s.State() != Running {
		t.Fatalf("state: \n\twant(%v) \n\thave(%v)", Running, s.State())
	}
	tick(t, s, 1)
	if s.State() != Finished {
		t.Fatalf("state: \n\twant(%v) \n\thave(%v)", Finished, s.State())
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.get("agent.ckpt"); !ok {
		t.Error("checkpoint: not saved on score threshold")
	}
	if s.Stats().BestScore != 2 {
		t.Errorf("bestscore: \n\twant(2) \n\thave(%v)", s.Stats().BestScore)
	}
}

func TestScoreThresholdOnTerminalStep(t *testing.T) {
	env := &fakeEnv{length: 2, scoring: true}
	a := &fakeAgent{weights: []byte("good")}
	store := newMemStore()
	returns := tracker.NewReturn("")
	c := testConfig(100)
	c.ScoreThreshold = 2
	c.Trackers = []tracker.Tracker{returns}
	s := newTestSession(t, env, a, store, c)

	tick(t, s, 2)
	if !a.experiences[1].Done {
		t.Fatal("experience: last transition not terminal")
	}
	stats := s.Stats()
	if stats.State != Finished {
		t.Errorf("state: \n\twant(%v) \n\thave(%v)", Finished, stats.State)
	}
	if stats.Episode != 1 {
		t.Errorf("episode: \n\twant(1) \n\thave(%v)", stats.Episode)
	}
	if stats.Steps != 0 || stats.Return != 0 || stats.LastReturn != 2 {
		t.Errorf("accumulators: \n\twant(0, 0, 2) \n\thave(%v, %v, %v)",
			stats.Steps, stats.Return, stats.LastReturn)
	}
	if have := returns.Returns(); len(have) != 1 || have[0] != 2 {
		t.Errorf("returns: \n\twant([2]) \n\thave(%v)", have)
	}

	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.get("agent.ckpt"); !ok {
		t.Error("checkpoint: not saved on score threshold")
	}
}

func TestFinishGivesUpOnHungCheckpoint(t *testing.T) {
	store := newMemStore()
	store.gate = make(chan struct{})
	defer close(store.gate)
	s := newTestSession(t, &fakeEnv{length: 10}, &fakeAgent{}, store,
		testConfig(10))

	if err := s.Handle(context.Background(), SaveCheckpoint); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.finish(ctx)

	if s.State() != Finished {
		t.Errorf("state: \n\twant(%v) \n\thave(%v)", Finished, s.State())
	}
	if _, ok := store.get("agent.ckpt"); ok {
		t.Error("finish: checkpoint saved behind a hung store")
	}
}

func TestInvalidObservationEndsEpisode(t *testing.T) {
	env := &fakeEnv{length: 10, nanAt: 2}
	a := &fakeAgent{}
	s := newTestSession(t, env, a, newMemStore(), testConfig(10))

	tick(t, s, 2)
	if s.Episode() != 1 || s.State() != AwaitingReset {
		t.Fatalf("tick: \n\twant(episode 1, %v) \n\thave(%v, %v)",
			AwaitingReset, s.Episode(), s.State())
	}

	last := a.experiences[len(a.experiences)-1]
	if !last.Done {
		t.Error("experience: invalid observation not marked done")
	}
	for _, v := range last.NextObservation {
		if v != 1 {
			t.Fatalf("experience: \n\twant(default observation) \n\thave(%v)",
				last.NextObservation)
		}
	}

	tick(t, s, 1)
	if env.resets != 1 {
		t.Error("tick: environment not reset after invalid observation")
	}
}

func TestPendingPersistenceSkipsTicks(t *testing.T) {
	env := &fakeEnv{length: 10}
	a := &fakeAgent{weights: []byte("w")}
	store := newMemStore()
	store.gate = make(chan struct{})
	s := newTestSession(t, env, a, store, testConfig(10))
	ctx := context.Background()

	if err := s.Handle(ctx, SaveCheckpoint); err != nil {
		t.Fatal(err)
	}
	tick(t, s, 3)
	if env.n != 0 {
		t.Errorf("tick: stepped while a save was outstanding")
	}
	if !s.Stats().Pending {
		t.Error("stats: save not reported as pending")
	}
	if err := s.Handle(ctx, LoadCheckpoint); !errors.Is(err, ErrPending) {
		t.Errorf("handle: \n\twant(%v) \n\thave(%v)", ErrPending, err)
	}

	close(store.gate)
	if err := s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Stats().Pending {
		t.Error("stats: save still pending after wait")
	}

	tick(t, s, 1)
	if env.n != 1 {
		t.Errorf("tick: \n\twant(1 step) \n\thave(%v)", env.n)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored []byte // nil for no checkpoint
		want   string
	}{
		{"missing", nil, "old"},
		{"malformed", []byte{}, "old"},
		{"valid", []byte("new"), "new"},
	}

	for _, test := range tests {
		env := &fakeEnv{length: 10}
		a := &fakeAgent{weights: []byte("old")}
		store := newMemStore()
		if test.stored != nil {
			store.data["agent.ckpt"] = test.stored
		}
		s := newTestSession(t, env, a, store, testConfig(10))

		if err := s.Handle(ctx, LoadCheckpoint); err != nil {
			t.Fatal(err)
		}
		if err := s.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		if string(a.weights) != test.want {
			t.Errorf("%s: \n\twant(%s) \n\thave(%s)", test.name, test.want,
				a.weights)
		}

		// Failed loads leave the session running
		tick(t, s, 1)
		if env.n != 1 || s.State() != Running {
			t.Errorf("%s: session stopped after load", test.name)
		}
	}
}

func TestHumanControl(t *testing.T) {
	env := &fakeEnv{length: 2}
	a := &fakeAgent{}
	c := testConfig(10)
	c.Training = false
	s := newTestSession(t, env, a, newMemStore(), c)
	ctx := context.Background()

	if s.State() != Idle {
		t.Fatalf("state: \n\twant(%v) \n\thave(%v)", Idle, s.State())
	}
	tick(t, s, 2)
	if env.n != 0 {
		t.Fatal("tick: idle session stepped the environment")
	}

	if err := s.Handle(ctx, Flap); err != nil {
		t.Fatal(err)
	}
	tick(t, s, 2)
	if len(env.actions) != 2 || env.actions[0] != 1 || env.actions[1] != 0 {
		t.Errorf("actions: \n\twant([1 0]) \n\thave(%v)", env.actions)
	}
	if len(a.epsilons) != 0 || a.optimizes != 0 {
		t.Error("agent: used while under human control")
	}

	// Human episodes return to Idle
	tick(t, s, 1)
	if s.State() != Idle {
		t.Errorf("state: \n\twant(%v) \n\thave(%v)", Idle, s.State())
	}
}

func TestToggleModes(t *testing.T) {
	c := testConfig(10)
	c.Training = false
	s := newTestSession(t, &fakeEnv{length: 10}, &fakeAgent{}, newMemStore(),
		c)
	ctx := context.Background()

	if err := s.Handle(ctx, ToggleTraining); err != nil {
		t.Fatal(err)
	}
	stats := s.Stats()
	if !stats.Training || !stats.AIControl || stats.State != Running {
		t.Errorf("toggle training: \n\twant(true, true, %v) "+
			"\n\thave(%v, %v, %v)", Running, stats.Training, stats.AIControl,
			stats.State)
	}
	if stats.Epsilon != 1 {
		t.Errorf("epsilon: \n\twant(1) \n\thave(%v)", stats.Epsilon)
	}

	if err := s.Handle(ctx, ToggleAIControl); err != nil {
		t.Fatal(err)
	}
	stats = s.Stats()
	if stats.Training || stats.AIControl {
		t.Errorf("toggle ai: \n\twant(false, false) \n\thave(%v, %v)",
			stats.Training, stats.AIControl)
	}

	if err := s.Handle(ctx, ToggleSensorOverlay); err != nil {
		t.Fatal(err)
	}
	if !s.Stats().Overlay {
		t.Error("toggle overlay: overlay not enabled")
	}

	if err := s.Handle(ctx, Command(99)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("handle: \n\twant(%v) \n\thave(%v)", ErrUnknownCommand, err)
	}
}

func TestOptimizeFailureSurfaced(t *testing.T) {
	env := &fakeEnv{length: 10}
	a := &fakeAgent{optErr: fmt.Errorf("optimizemodel: %w",
		deepq.ErrEmptyBatch)}
	s := newTestSession(t, env, a, newMemStore(), testConfig(10))

	err := s.Tick(context.Background())
	if !errors.Is(err, deepq.ErrEmptyBatch) {
		t.Fatalf("tick: \n\twant(%v) \n\thave(%v)", deepq.ErrEmptyBatch, err)
	}
	if s.Stats().Steps != 1 {
		t.Errorf("steps: \n\twant(1) \n\thave(%v)", s.Stats().Steps)
	}

	// Updates already in flight are skipped silently
	a.optErr = fmt.Errorf("optimizemodel: %w", deepq.ErrInFlight)
	if err := s.Tick(context.Background()); err != nil {
		t.Errorf("tick: \n\twant(nil) \n\thave(%v)", err)
	}
}

func TestRun(t *testing.T) {
	env := &fakeEnv{length: 2}
	a := &fakeAgent{weights: []byte("w")}
	store := newMemStore()
	schedule := checkpointer.NewNEpisode(1,
		checkpointer.FilenameEnumerator(0, "periodic", ".ckpt"))
	c := testConfig(3)
	c.Schedule = schedule
	s := newTestSession(t, env, a, store, c)

	cmds := make(chan Command, 1)
	cmds <- ToggleSensorOverlay
	if err := s.Run(context.Background(), cmds); err != nil {
		t.Fatal(err)
	}

	if s.Episode() != 3 || s.State() != Finished {
		t.Errorf("run: \n\twant(3, %v) \n\thave(%v, %v)", Finished,
			s.Episode(), s.State())
	}
	if !s.Stats().Overlay {
		t.Error("run: command not handled")
	}
	for _, name := range []string{"agent.ckpt", "periodic1.ckpt",
		"periodic2.ckpt"} {
		if _, ok := store.get(name); !ok {
			t.Errorf("run: checkpoint %v not saved", name)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	c := testConfig(10)
	c.Training = false
	s := newTestSession(t, &fakeEnv{length: 2}, &fakeAgent{}, newMemStore(),
		c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("run: \n\twant(%v) \n\thave(%v)", context.Canceled, err)
	}
}
