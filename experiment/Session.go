package experiment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/agent"
	"github.com/samuelfneumann/flappydqn/agent/deepq"
	"github.com/samuelfneumann/flappydqn/environment"
	"github.com/samuelfneumann/flappydqn/experiment/checkpointer"
	"github.com/samuelfneumann/flappydqn/experiment/tracker"
	"github.com/samuelfneumann/flappydqn/expreplay"
	"github.com/samuelfneumann/flappydqn/timestep"
	"github.com/samuelfneumann/flappydqn/utils/progressbar"
)

// Config configures a Session
type Config struct {
	// Epsilon is the exploration schedule. Its Episodes field is the
	// episode budget of a training session.
	Epsilon LinearDecay

	// ResetDelay is how long a session waits after an episode ends
	// before resetting the environment
	ResetDelay time.Duration

	// ScoreThreshold finishes a training session once an episode's
	// score reaches it. Zero disables the threshold.
	ScoreThreshold int

	// TickRate is the number of ticks per second of Run. Zero runs
	// ticks back to back.
	TickRate float64

	// CheckpointName is the name checkpoints are saved under and
	// loaded from
	CheckpointName string

	// CheckpointTimeout bounds each checkpoint save or load. Zero
	// means no bound.
	CheckpointTimeout time.Duration

	// Schedule, if not nil, takes periodic checkpoints at the end of
	// episodes
	Schedule checkpointer.Schedule

	Trackers []tracker.Tracker

	// Progress, if not nil, receives a progress bar of the episode
	// budget
	Progress io.Writer

	// Frames, if not nil, receives a rendering of the environment
	// after every step. The environment must be an
	// environment.Renderer.
	Frames func(image.Image)

	// Training and AIControl are the initial control modes. A session
	// with either set starts Running, otherwise Idle.
	Training  bool
	AIControl bool

	// KeepAlive keeps Run going after the session finishes, so that
	// checkpoint commands can still be handled
	KeepAlive bool

	Logger zerolog.Logger
}

// Validate returns an error if the Config cannot be used to build a
// Session
func (c Config) Validate() error {
	if err := c.Epsilon.Validate(); err != nil {
		return err
	}
	if c.ResetDelay < 0 {
		return fmt.Errorf("validate: reset delay must be non-negative")
	}
	if c.ScoreThreshold < 0 {
		return fmt.Errorf("validate: score threshold must be non-negative")
	}
	if c.TickRate < 0 {
		return fmt.Errorf("validate: tick rate must be non-negative")
	}
	if c.CheckpointName == "" {
		return fmt.Errorf("validate: no checkpoint name")
	}
	return nil
}

// Stats is a snapshot of a Session
type Stats struct {
	Session    string  `json:"session"`
	State      State   `json:"state"`
	Episode    int     `json:"episode"`
	Steps      int     `json:"steps"`
	Return     float64 `json:"return"`
	LastReturn float64 `json:"last_return"`
	Epsilon    float64 `json:"epsilon"`
	Score      int     `json:"score"`
	BestScore  int     `json:"best_score"`
	Loss       float64 `json:"loss"`
	BufferSize int     `json:"buffer_size"`
	Training   bool    `json:"training"`
	AIControl  bool    `json:"ai_control"`
	Overlay    bool    `json:"overlay"`
	Pending    bool    `json:"pending"`
}

type persistOp int

const (
	opSave persistOp = iota
	opLoad
)

func (p persistOp) String() string {
	if p == opLoad {
		return "load"
	}
	return "save"
}

type persistResult struct {
	op   persistOp
	name string
	data []byte
	err  error
}

// Session is a training session: the aggregate of an agent, an
// environment, episode counters, and control modes.
//
// Tick, Handle, Wait, and Run must be called from a single goroutine.
// Stats may be called from any goroutine.
type Session struct {
	id     string
	env    environment.Environment
	agent  agent.Checkpointer
	store  agent.Store
	config Config
	logger zerolog.Logger
	now    func() time.Time
	bar    *progressbar.ManualProgressBar

	state     State
	resetAt   time.Time
	training  bool
	aiControl bool
	overlay   bool
	flap      bool

	episode       int
	steps         int
	episodeReturn float64
	lastReturn    float64
	bestScore     int

	// pending receives the result of the outstanding checkpoint save
	// or load, and is nil when there is none
	pending chan persistResult

	mu    sync.RWMutex
	stats Stats
}

// New returns a new Session. The environment should be freshly reset.
func New(env environment.Environment, a agent.Checkpointer,
	store agent.Store, c Config) (*Session, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if c.Frames != nil {
		if _, ok := env.(environment.Renderer); !ok {
			return nil, fmt.Errorf("new: frames requested but environment " +
				"cannot render")
		}
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		env:       env,
		agent:     a,
		store:     store,
		config:    c,
		logger:    c.Logger.With().Str("session", id).Logger(),
		now:       time.Now,
		training:  c.Training,
		aiControl: c.AIControl || c.Training,
	}
	if s.active() {
		s.state = Running
	}
	if c.Progress != nil {
		s.bar = progressbar.NewManualProgressBar(c.Progress, 40,
			c.Epsilon.Episodes)
	}

	s.publish()
	return s, nil
}

// ID returns the unique id of the session
func (s *Session) ID() string {
	return s.id
}

// State returns the current state of the session
func (s *Session) State() State {
	return s.state
}

// Episode returns the number of episodes completed
func (s *Session) Episode() int {
	return s.episode
}

// Stats returns a snapshot of the session taken at the end of the
// last tick or command. Stats is safe for concurrent use.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Epsilon returns the current exploration probability. Agents do not
// explore outside of training.
func (s *Session) Epsilon() float64 {
	if !s.training {
		return 0
	}
	return s.config.Epsilon.At(s.episode)
}

func (s *Session) active() bool {
	return s.training || s.aiControl
}

// Tick advances the session by one tick. While a checkpoint save or
// load is outstanding, ticks are skipped. The returned error is a
// hard failure: either the environment could not be stepped, or the
// agent's update failed.
func (s *Session) Tick(ctx context.Context) error {
	defer s.publish()

	if s.pending != nil {
		select {
		case r := <-s.pending:
			s.settle(r)
		default:
			return nil
		}
	}

	switch s.state {
	case Running:
		return s.step(ctx)

	case AwaitingReset:
		if !s.now().Before(s.resetAt) {
			s.env.Reset()
			s.state = Idle
			if s.active() {
				s.state = Running
			}
			s.logger.Debug().Stringer("state", s.state).Msg("environment reset")
		}
	}
	return nil
}

// step runs one step of the environment and the bookkeeping after it
func (s *Session) step(ctx context.Context) error {
	size := s.env.ObservationSize()
	obs, obsOK := environment.Sanitize(s.env.Observation(), size)

	action, err := s.action(obs)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	step, err := s.env.Step(action)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	next, nextOK := environment.Sanitize(step.Observation, size)
	if !obsOK || !nextOK {
		s.logger.Warn().
			Int("episode", s.episode).
			Int("step", step.Number).
			Msg("invalid observation, ending episode")
		step.Observation = next
		if !step.Last() {
			step.SetEnd(timestep.Invalid)
		}
	}
	done := step.Last()

	s.agent.Remember(expreplay.NewExperience(obs, action, step.Reward, next,
		done))

	var optErr error
	if s.training {
		if err := s.agent.OptimizeModel(); errors.Is(err, deepq.ErrInFlight) {
			s.logger.Debug().Msg("update in flight, skipped")
		} else if err != nil {
			s.logger.Error().Err(err).Int("episode", s.episode).
				Msg("could not update agent")
			optErr = fmt.Errorf("tick: %w", err)
		}
	}

	s.steps++
	s.episodeReturn += step.Reward
	for _, t := range s.config.Trackers {
		t.Track(step)
	}
	if s.config.Frames != nil {
		s.config.Frames(s.env.(environment.Renderer).Render(s.overlay))
	}

	score := s.score()
	if score > s.bestScore {
		s.bestScore = score
	}

	reached := s.training && s.config.ScoreThreshold > 0 &&
		score >= s.config.ScoreThreshold
	if reached {
		s.logger.Info().Int("score", score).Msg("score threshold reached")
	}

	switch {
	case done:
		s.endEpisode(ctx, score, reached)
	case reached:
		s.finish(ctx)
	}
	return optErr
}

// action returns the agent's action if it is in control, otherwise
// the human action
func (s *Session) action(obs []float64) (int, error) {
	if s.aiControl {
		return s.agent.Act(obs, s.Epsilon())
	}

	if s.flap {
		s.flap = false
		return 1, nil
	}
	return 0, nil
}

func (s *Session) score() int {
	if scorer, ok := s.env.(environment.Scorer); ok {
		return scorer.Score()
	}
	return 0
}

// endEpisode records a finished episode and moves to AwaitingReset,
// or to Finished if the episode budget is spent or the score threshold
// was reached
func (s *Session) endEpisode(ctx context.Context, score int, reached bool) {
	s.logger.Info().
		Int("episode", s.episode+1).
		Float64("reward", s.episodeReturn).
		Int("steps", s.steps).
		Int("score", score).
		Float64("epsilon", s.Epsilon()).
		Msg("episode finished")

	s.episode++
	s.lastReturn = s.episodeReturn
	s.steps = 0
	s.episodeReturn = 0

	if s.bar != nil && s.training {
		s.bar.Increment()
		s.bar.SetStatus("episode %d  return %.2f  best %d", s.episode,
			s.lastReturn, s.bestScore)
		s.bar.Display()
	}

	if reached {
		s.finish(ctx)
		return
	}
	if s.training && s.episode >= s.config.Epsilon.Episodes {
		s.logger.Info().Int("episodes", s.episode).Msg("episode budget spent")
		s.finish(ctx)
		return
	}

	if s.config.Schedule != nil {
		if name, ok := s.config.Schedule.Due(s.episode); ok {
			if err := s.startSave(ctx, name); err != nil {
				s.logger.Error().Err(err).Str("name", name).
					Msg("could not start periodic checkpoint")
			}
		}
	}

	s.state = AwaitingReset
	s.resetAt = s.now().Add(s.config.ResetDelay)
}

// finish stops training for good and saves a final checkpoint
func (s *Session) finish(ctx context.Context) {
	s.state = Finished
	s.training = false
	s.aiControl = false
	if s.bar != nil {
		s.bar.Close()
	}

	// The final checkpoint must not be dropped behind an outstanding
	// one
	if s.pending != nil {
		select {
		case r := <-s.pending:
			s.settle(r)
		case <-ctx.Done():
			s.logger.Error().Err(ctx.Err()).
				Msg("gave up waiting for checkpoint, final checkpoint not saved")
			return
		}
	}
	if err := s.startSave(ctx, s.config.CheckpointName); err != nil {
		s.logger.Error().Err(err).Msg("could not start final checkpoint")
	}
}

// Handle applies a command. Persistence and mode errors are returned
// but leave the session usable.
func (s *Session) Handle(ctx context.Context, cmd Command) error {
	defer s.publish()

	switch cmd {
	case SaveCheckpoint:
		return s.startSave(ctx, s.config.CheckpointName)

	case LoadCheckpoint:
		return s.startLoad(ctx, s.config.CheckpointName)

	case ToggleSensorOverlay:
		s.overlay = !s.overlay
		s.logger.Info().Bool("overlay", s.overlay).Msg("sensor overlay")
		return nil
	}

	if s.state == Finished {
		return fmt.Errorf("handle: %v: %w", cmd, ErrFinished)
	}

	switch cmd {
	case ToggleTraining:
		s.training = !s.training
		if s.training {
			s.aiControl = true
		}

	case ToggleAIControl:
		s.aiControl = !s.aiControl
		if !s.aiControl {
			s.training = false
		}

	case Flap:
		s.flap = true
		if s.state == Idle {
			s.state = Running
		}
		return nil

	default:
		return fmt.Errorf("handle: %v: %w", cmd, ErrUnknownCommand)
	}

	if s.state == Idle && s.active() {
		s.state = Running
	}
	s.logger.Info().
		Bool("training", s.training).
		Bool("ai_control", s.aiControl).
		Stringer("state", s.state).
		Msg("control mode changed")
	return nil
}

// startSave snapshots the agent and saves the snapshot asynchronously
func (s *Session) startSave(ctx context.Context, name string) error {
	if s.pending != nil {
		return fmt.Errorf("save: %w", ErrPending)
	}

	data, err := s.agent.Checkpoint()
	if err != nil {
		s.logger.Error().Err(err).Msg("could not checkpoint agent")
		return fmt.Errorf("save: %w", err)
	}

	s.launch(ctx, opSave, name, func(ctx context.Context) ([]byte, error) {
		return nil, s.store.Save(ctx, name, data)
	})
	return nil
}

// startLoad loads a checkpoint asynchronously. The agent is restored
// from it on the session's goroutine once the load completes.
func (s *Session) startLoad(ctx context.Context, name string) error {
	if s.pending != nil {
		return fmt.Errorf("load: %w", ErrPending)
	}

	s.launch(ctx, opLoad, name, func(ctx context.Context) ([]byte, error) {
		return s.store.Load(ctx, name)
	})
	return nil
}

func (s *Session) launch(ctx context.Context, op persistOp, name string,
	do func(context.Context) ([]byte, error)) {
	result := make(chan persistResult, 1)
	s.pending = result

	s.logger.Debug().Stringer("op", op).Str("name", name).
		Msg("checkpoint operation started")

	go func() {
		if s.config.CheckpointTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.CheckpointTimeout)
			defer cancel()
		}
		data, err := do(ctx)
		result <- persistResult{op: op, name: name, data: data, err: err}
	}()
}

// settle applies the result of a finished save or load. Failures are
// logged and leave the agent unchanged.
func (s *Session) settle(r persistResult) {
	s.pending = nil

	if r.err == nil && r.op == opLoad {
		r.err = s.agent.Restore(r.data)
	}

	if r.err != nil {
		s.logger.Error().Err(r.err).Stringer("op", r.op).Str("name", r.name).
			Msg("checkpoint operation failed")
		return
	}
	s.logger.Info().Stringer("op", r.op).Str("name", r.name).
		Msg("checkpoint operation finished")
}

// Wait blocks until any outstanding checkpoint save or load has
// finished
func (s *Session) Wait(ctx context.Context) error {
	defer s.publish()
	if s.pending == nil {
		return nil
	}

	select {
	case r := <-s.pending:
		s.settle(r)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait: %w", ctx.Err())
	}
}

// Run ticks the session until it finishes or ctx is cancelled,
// applying commands from cmds between ticks. Command errors are
// logged. A tick error stops Run and is returned. Any outstanding
// checkpoint operation is waited for before Run returns.
func (s *Session) Run(ctx context.Context, cmds <-chan Command) error {
	var tick <-chan time.Time
	if s.config.TickRate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) /
			s.config.TickRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if s.state == Finished && !s.config.KeepAlive {
			return s.Wait(context.Background())
		}

		if tick == nil {
			select {
			case <-ctx.Done():
				return s.stop(ctx)
			case cmd := <-cmds:
				s.handleLogged(ctx, cmd)
				continue
			default:
			}
		} else {
			select {
			case <-ctx.Done():
				return s.stop(ctx)
			case cmd := <-cmds:
				s.handleLogged(ctx, cmd)
				continue
			case <-tick:
			}
		}

		if err := s.Tick(ctx); err != nil {
			if werr := s.Wait(context.Background()); werr != nil {
				s.logger.Error().Err(werr).Msg("could not wait for checkpoint")
			}
			return fmt.Errorf("run: %w", err)
		}
	}
}

func (s *Session) handleLogged(ctx context.Context, cmd Command) {
	if err := s.Handle(ctx, cmd); err != nil {
		s.logger.Warn().Err(err).Stringer("command", cmd).
			Msg("command not applied")
	}
}

func (s *Session) stop(ctx context.Context) error {
	if err := s.Wait(context.Background()); err != nil {
		return err
	}
	return ctx.Err()
}

// publish refreshes the snapshot returned by Stats
func (s *Session) publish() {
	stats := Stats{
		Session:    s.id,
		State:      s.state,
		Episode:    s.episode,
		Steps:      s.steps,
		Return:     s.episodeReturn,
		LastReturn: s.lastReturn,
		Epsilon:    s.Epsilon(),
		Score:      s.score(),
		BestScore:  s.bestScore,
		Loss:       s.agent.Loss(),
		BufferSize: s.agent.BufferSize(),
		Training:   s.training,
		AIControl:  s.aiControl,
		Overlay:    s.overlay,
		Pending:    s.pending != nil,
	}

	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}
