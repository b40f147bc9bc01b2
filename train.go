package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/config"
	"github.com/samuelfneumann/flappydqn/experiment"
	"github.com/samuelfneumann/flappydqn/experiment/tracker"
	"github.com/spf13/cobra"
)

// TrainCommand trains an agent headless until the episode budget is
// spent or the score threshold is reached
func TrainCommand() *cobra.Command {
	var episodes int
	var resume bool
	var window int
	var naming string
	var every int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent without rendering",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if episodes > 0 {
				c.TotalEpisodes = episodes
			}
			if cmd.Flags().Changed("checkpoint-naming") {
				c.CheckpointNaming = naming
			}
			if cmd.Flags().Changed("checkpoint-every") {
				c.CheckpointEvery = every
			}

			env, q, store, err := build(c, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
				return fmt.Errorf("train: %w", err)
			}
			returns := tracker.NewReturn(filepath.Join(c.DataDir, "returns.bin"))
			lengths := tracker.NewEpisodeLength(filepath.Join(c.DataDir,
				"lengths.bin"))

			sc, err := trainSession(c, logger, returns, lengths)
			if err != nil {
				return err
			}
			sc.Progress = os.Stdout

			s, err := experiment.New(env, q, store, sc)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if resume {
				if err := s.Handle(ctx, experiment.LoadCheckpoint); err != nil {
					return err
				}
				if err := s.Wait(ctx); err != nil {
					return err
				}
			}

			err = s.Run(ctx, nil)
			if err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}

			for _, t := range sc.Trackers {
				if err := t.Save(); err != nil {
					return err
				}
			}
			if len(returns.Returns()) > 0 {
				plot := filepath.Join(c.DataDir, "returns.png")
				if err := tracker.PlotReturns(returns.Returns(), window,
					plot); err != nil {
					return err
				}
			}

			stats := s.Stats()
			logger.Info().
				Int("episodes", stats.Episode).
				Int("best_score", stats.BestScore).
				Str("data", c.DataDir).
				Msg("training finished")
			return nil
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "e", 0,
		"Episode budget, overriding the configuration")
	cmd.Flags().BoolVar(&resume, "resume", false,
		"Load the checkpoint before training")
	cmd.Flags().IntVar(&window, "window", 10,
		"Moving average window of the returns plot")
	cmd.Flags().StringVar(&naming, "checkpoint-naming", "enumerate",
		"Periodic checkpoint names: enumerate, timestamp, or latest")
	cmd.Flags().IntVar(&every, "checkpoint-every", 0,
		"Episodes between periodic checkpoints, zero for none")
	return cmd
}

// trainSession returns the session configuration of a headless
// training run. With no frames to show, ticks run back to back and
// episodes reset immediately.
func trainSession(c config.Config, logger zerolog.Logger,
	trackers ...tracker.Tracker) (experiment.Config, error) {
	schedule, err := c.Schedule()
	if err != nil {
		return experiment.Config{}, fmt.Errorf("train: %w", err)
	}

	sc := c.Session(logger)
	sc.Training = true
	sc.TickRate = 0
	sc.ResetDelay = 0
	sc.Schedule = schedule
	sc.Trackers = trackers
	return sc, nil
}
