package main

import (
	"fmt"

	"github.com/samuelfneumann/flappydqn/environment/flappy"
	"github.com/spf13/cobra"
)

// RenderCommand saves a single frame of the world and its lidar rays
func RenderCommand() *cobra.Command {
	var out string
	var steps int
	var flapEvery int
	var overlay bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one frame of the world to PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			envConfig, err := c.Flappy()
			if err != nil {
				return err
			}
			env, err := flappy.New(envConfig)
			if err != nil {
				return err
			}

			for i := 1; i <= steps && !env.IsDone(); i++ {
				action := flappy.NoOp
				if flapEvery > 0 && i%flapEvery == 0 {
					action = flappy.Flap
				}
				if _, err := env.Step(action); err != nil {
					return fmt.Errorf("render: %w", err)
				}
			}

			if err := env.SavePNG(out, overlay); err != nil {
				return err
			}
			logger.Info().Str("path", out).Int("score", env.Score()).
				Msg("frame saved")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "frame.png", "Output PNG path")
	cmd.Flags().IntVar(&steps, "steps", 30, "Steps to run before rendering")
	cmd.Flags().IntVar(&flapEvery, "flap-every", 10,
		"Flap every this many steps, zero to never flap")
	cmd.Flags().BoolVar(&overlay, "overlay", true, "Draw the lidar rays")
	return cmd
}
