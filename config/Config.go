// Package config implements the run configuration of flappydqn.
//
// Values are layered, later sources winning: Default, a JSON file, a
// .env file, FLAPPYDQN_* environment variables, and finally command
// line flags, which the CLI applies to the loaded Config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/agent/deepq"
	"github.com/samuelfneumann/flappydqn/environment/flappy"
	"github.com/samuelfneumann/flappydqn/experiment"
	"github.com/samuelfneumann/flappydqn/experiment/checkpointer"
	"github.com/samuelfneumann/flappydqn/initwfn"
	"github.com/samuelfneumann/flappydqn/reward"
	"github.com/samuelfneumann/flappydqn/solver"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "FLAPPYDQN_"

// Duration is a time.Duration that is JSON encoded as a string such
// as "300ms"
type Duration time.Duration

// MarshalJSON implements the json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshalJSON: duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Config is the full configuration of a run
type Config struct {
	// Environment and sensor
	Rays         int     `json:"rays"`
	MaxDistance  float64 `json:"max_distance"`
	TiltSensor   bool    `json:"tilt_sensor"`
	RewardScheme string  `json:"reward_scheme"`
	MaxSteps     int     `json:"max_steps"`

	// Agent
	HiddenSizes          []int            `json:"hidden_sizes"`
	Solver               *solver.Solver   `json:"solver"`
	InitWFn              *initwfn.InitWFn `json:"init_wfn"`
	Gamma                float64          `json:"gamma"`
	Capacity             int              `json:"capacity"`
	BatchSize            int              `json:"batch_size"`
	ExploreFraction      float64          `json:"explore_fraction"`
	Tau                  float64          `json:"tau"`
	TargetUpdateInterval int              `json:"target_update_interval"`

	// Session
	EpsilonStart   float64  `json:"epsilon_start"`
	EpsilonEnd     float64  `json:"epsilon_end"`
	TotalEpisodes  int      `json:"total_episodes"`
	ResetDelay     Duration `json:"reset_delay"`
	ScoreThreshold int      `json:"score_threshold"`
	TickRate       float64  `json:"tick_rate"`

	// Persistence
	CheckpointDir     string   `json:"checkpoint_dir"`
	CheckpointName    string   `json:"checkpoint_name"`
	CheckpointEvery   int      `json:"checkpoint_every"`
	CheckpointNaming  string   `json:"checkpoint_naming"`
	CheckpointTimeout Duration `json:"checkpoint_timeout"`
	RedisAddr         string   `json:"redis_addr"`
	DataDir           string   `json:"data_dir"`

	// Control surface
	Addr string `json:"addr"`

	Seed     uint64 `json:"seed"`
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
}

// Default returns the canonical configuration
func Default() Config {
	s, err := solver.NewDefaultAdam(0.001, 1)
	if err != nil {
		panic(fmt.Sprintf("default: %v", err))
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("default: %v", err))
	}

	return Config{
		Rays:         180,
		MaxDistance:  300,
		RewardScheme: "rich",

		HiddenSizes:          []int{256, 256},
		Solver:               s,
		InitWFn:              init,
		Gamma:                0.99,
		Capacity:             10000,
		BatchSize:            64,
		ExploreFraction:      0.6,
		Tau:                  1.0,
		TargetUpdateInterval: 1,

		EpsilonStart:   1.0,
		EpsilonEnd:     0.05,
		TotalEpisodes:  500,
		ResetDelay:     Duration(300 * time.Millisecond),
		ScoreThreshold: 100,
		TickRate:       30,

		CheckpointDir:     "checkpoints",
		CheckpointName:    "agent.ckpt",
		CheckpointNaming:  "enumerate",
		CheckpointTimeout: Duration(10 * time.Second),
		DataDir:           "data",

		Addr:     ":8080",
		LogLevel: "info",
	}
}

// Load returns the default configuration overlaid with the JSON file
// at path, the .env file envFile, and FLAPPYDQN_* environment
// variables. Empty paths are skipped, as is an envFile that does not
// exist.
func Load(path, envFile string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load: %w", err)
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("load: %v: %w", path, err)
		}
	}

	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load: %v: %w", envFile, err)
		}
	}

	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("load: %w", err)
	}
	return c, nil
}

// ApplyEnv overwrites fields with the FLAPPYDQN_* variables found by
// lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	setters := map[string]func(string) error{
		"RAYS":              intSetter(&c.Rays),
		"MAX_DISTANCE":      floatSetter(&c.MaxDistance),
		"REWARD_SCHEME":     stringSetter(&c.RewardScheme),
		"GAMMA":             floatSetter(&c.Gamma),
		"CAPACITY":          intSetter(&c.Capacity),
		"BATCH_SIZE":        intSetter(&c.BatchSize),
		"EPSILON_START":     floatSetter(&c.EpsilonStart),
		"EPSILON_END":       floatSetter(&c.EpsilonEnd),
		"TOTAL_EPISODES":    intSetter(&c.TotalEpisodes),
		"RESET_DELAY":       durationSetter(&c.ResetDelay),
		"SCORE_THRESHOLD":   intSetter(&c.ScoreThreshold),
		"TICK_RATE":         floatSetter(&c.TickRate),
		"CHECKPOINT_DIR":    stringSetter(&c.CheckpointDir),
		"CHECKPOINT_NAME":   stringSetter(&c.CheckpointName),
		"CHECKPOINT_NAMING": stringSetter(&c.CheckpointNaming),
		"REDIS_ADDR":        stringSetter(&c.RedisAddr),
		"DATA_DIR":          stringSetter(&c.DataDir),
		"ADDR":              stringSetter(&c.Addr),
		"LOG_LEVEL":         stringSetter(&c.LogLevel),
		"SEED": func(v string) error {
			s, err := strconv.ParseUint(v, 10, 64)
			c.Seed = s
			return err
		},
		"LEARNING_RATE": func(v string) error {
			lr, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			c.Solver, err = solver.NewDefaultAdam(lr, 1)
			return err
		},
	}

	for name, set := range setters {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(v); err != nil {
			return fmt.Errorf("applyEnv: %v%v: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func intSetter(field *int) func(string) error {
	return func(v string) error {
		i, err := strconv.Atoi(v)
		*field = i
		return err
	}
}

func floatSetter(field *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		*field = f
		return err
	}
}

func stringSetter(field *string) func(string) error {
	return func(v string) error {
		*field = v
		return nil
	}
}

func durationSetter(field *Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		*field = Duration(d)
		return err
	}
}

// Validate returns an error if the Config describes an impossible run
func (c Config) Validate() error {
	if _, err := c.Flappy(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.DeepQ(c.Rays, flappy.NumActions,
		zerolog.Nop()).Validate(); err != nil {
		return err
	}
	if err := c.Epsilon().Validate(); err != nil {
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
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("validate: checkpoint interval must be " +
			"non-negative")
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// Flappy returns the environment configuration
func (c Config) Flappy() (flappy.Config, error) {
	scheme, err := reward.Named(c.RewardScheme)
	if err != nil {
		return flappy.Config{}, fmt.Errorf("flappy: %w", err)
	}

	e := flappy.DefaultConfig()
	e.Rays = c.Rays
	e.MaxDistance = c.MaxDistance
	e.TiltSensor = c.TiltSensor
	e.MaxSteps = c.MaxSteps
	e.Reward = scheme
	e.Seed = c.Seed
	return e, e.Validate()
}

// DeepQ returns the agent configuration for the given observation
// length and number of actions
func (c Config) DeepQ(features, actions int, logger zerolog.Logger) deepq.Config {
	d := deepq.DefaultConfig(features, actions)
	d.HiddenSizes = append([]int(nil), c.HiddenSizes...)
	if c.Solver != nil {
		d.Solver = c.Solver.Fresh()
	} else {
		d.Solver = nil
	}
	d.InitWFn = c.InitWFn
	d.Gamma = c.Gamma
	d.Capacity = c.Capacity
	d.BatchSize = c.BatchSize
	d.ExploreFraction = c.ExploreFraction
	d.Tau = c.Tau
	d.TargetUpdateInterval = c.TargetUpdateInterval
	d.Seed = c.Seed
	d.Logger = logger
	return d
}

// Schedule returns the periodic checkpoint schedule, or nil if
// periodic checkpoints are off. Periodic checkpoints are named after
// CheckpointName following CheckpointNaming:
//
//	enumerate: agent-1.ckpt, agent-2.ckpt, ...
//	timestamp: agent-20240101T120000.000000000.ckpt
//	latest:    agent.ckpt, overwritten each time
func (c Config) Schedule() (checkpointer.Schedule, error) {
	ext := filepath.Ext(c.CheckpointName)
	base := strings.TrimSuffix(c.CheckpointName, ext)

	var names func() string
	switch c.CheckpointNaming {
	case "enumerate":
		names = checkpointer.FilenameEnumerator(0, base+"-", ext)
	case "timestamp":
		names = checkpointer.FileTimer(base, ext)
	case "latest":
		names = checkpointer.Fixed(c.CheckpointName)
	default:
		return nil, fmt.Errorf("schedule: unknown checkpoint naming %q",
			c.CheckpointNaming)
	}

	if c.CheckpointEvery == 0 {
		return nil, nil
	}
	return checkpointer.NewNEpisode(c.CheckpointEvery, names), nil
}

// Epsilon returns the exploration schedule
func (c Config) Epsilon() experiment.LinearDecay {
	return experiment.LinearDecay{
		Start:    c.EpsilonStart,
		End:      c.EpsilonEnd,
		Episodes: c.TotalEpisodes,
	}
}

// Session returns the session configuration. Hooks, trackers, and
// control modes are left to the caller.
func (c Config) Session(logger zerolog.Logger) experiment.Config {
	return experiment.Config{
		Epsilon:           c.Epsilon(),
		ResetDelay:        time.Duration(c.ResetDelay),
		ScoreThreshold:    c.ScoreThreshold,
		TickRate:          c.TickRate,
		CheckpointName:    c.CheckpointName,
		CheckpointTimeout: time.Duration(c.CheckpointTimeout),
		Logger:            logger,
	}
}
