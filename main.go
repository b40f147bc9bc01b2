// Command flappydqn trains and runs a deep Q-learning agent that
// flies a bird through a course of pipes using lidar perception.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/agent"
	"github.com/samuelfneumann/flappydqn/agent/deepq"
	"github.com/samuelfneumann/flappydqn/config"
	"github.com/samuelfneumann/flappydqn/environment/flappy"
	"github.com/samuelfneumann/flappydqn/experiment/checkpointer"
	"github.com/spf13/cobra"
)

// Persistent flags shared by every subcommand
var (
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
	seed       uint64
)

func main() {
	rootCommand := &cobra.Command{
		Use:          "flappydqn",
		Short:        "Deep Q-learning with lidar perception on a pipe course",
		SilenceUsage: true,
	}
	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "JSON configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "File of FLAPPYDQN_* variables")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
	flags.BoolVar(&logJSON, "log-json", false, "Log JSON instead of console text")
	flags.Uint64Var(&seed, "seed", 0, "Random seed")

	rootCommand.AddCommand(TrainCommand())
	rootCommand.AddCommand(PlayCommand())
	rootCommand.AddCommand(ServeCommand())
	rootCommand.AddCommand(RenderCommand())

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, applies the persistent flags that
// were set, and builds the logger
func setup(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	c, err := config.Load(configPath, envFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-json") {
		c.LogJSON = logJSON
	}
	if flags.Changed("seed") {
		c.Seed = seed
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}
	if c.LogJSON {
		out = os.Stderr
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	return c, logger, nil
}

// build returns the environment, the agent, and the checkpoint store
// described by c
func build(c config.Config, logger zerolog.Logger) (*flappy.Flappy,
	*deepq.DeepQ, agent.Store, error) {
	envConfig, err := c.Flappy()
	if err != nil {
		return nil, nil, nil, err
	}
	env, err := flappy.New(envConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build: %w", err)
	}

	q, err := deepq.New(c.DeepQ(env.ObservationSize(), env.NumActions(),
		logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build: %w", err)
	}

	var store agent.Store
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		store = checkpointer.NewRedisStore(client, "flappydqn:", 0)
		logger.Info().Str("addr", c.RedisAddr).Msg("checkpoints in redis")
	} else {
		store, err = checkpointer.NewFileStore(c.CheckpointDir)
		if err != nil {
			q.Close()
			return nil, nil, nil, fmt.Errorf("build: %w", err)
		}
		logger.Info().Str("dir", c.CheckpointDir).Msg("checkpoints on disk")
	}

	return env, q, store, nil
}

// signalContext returns a context cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
