package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/flappydqn/experiment"
	"github.com/spf13/cobra"
)

// PlayCommand runs greedy episodes of a trained agent
func PlayCommand() *cobra.Command {
	var episodes int
	var frameDir string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run greedy episodes of a trained agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			env, q, store, err := build(c, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := q.Load(ctx, store, c.CheckpointName); err != nil {
				return fmt.Errorf("play: %w", err)
			}

			if frameDir != "" {
				if err := os.MkdirAll(frameDir, 0o755); err != nil {
					return fmt.Errorf("play: %w", err)
				}
			}

			sc := c.Session(logger)
			sc.AIControl = true
			sc.ResetDelay = 0
			s, err := experiment.New(env, q, store, sc)
			if err != nil {
				return err
			}

			for s.Episode() < episodes && ctx.Err() == nil {
				if err := s.Tick(ctx); err != nil {
					return err
				}
				if s.State() == experiment.AwaitingReset && frameDir != "" {
					path := filepath.Join(frameDir,
						fmt.Sprintf("episode%d.png", s.Episode()))
					if err := env.SavePNG(path, true); err != nil {
						return err
					}
				}
			}

			stats := s.Stats()
			logger.Info().
				Int("episodes", stats.Episode).
				Int("best_score", stats.BestScore).
				Float64("last_return", stats.LastReturn).
				Msg("play finished")
			return nil
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "e", 5,
		"Number of episodes to play")
	cmd.Flags().StringVar(&frameDir, "frames", "",
		"Directory to save the last frame of each episode to")
	return cmd
}
