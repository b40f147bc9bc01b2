package main

import (
	"errors"
	"image"

	"github.com/samuelfneumann/flappydqn/experiment"
	"github.com/samuelfneumann/flappydqn/server"
	"github.com/spf13/cobra"
)

// ServeCommand runs a session in real time with its control surface
// exposed over HTTP
func ServeCommand() *cobra.Command {
	var training bool
	var queue int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a session in real time, controlled over HTTP",
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

			cmds := make(chan experiment.Command, queue)
			var srv *server.Server

			sc := c.Session(logger)
			sc.Training = training
			sc.KeepAlive = true
			sc.Frames = func(img image.Image) { srv.SetFrame(img) }
			s, err := experiment.New(env, q, store, sc)
			if err != nil {
				return err
			}
			srv = server.New(c.Addr, s, cmds, logger)

			ctx, cancel := signalContext()
			defer cancel()

			srv.Start(ctx)
			err = s.Run(ctx, cmds)
			if err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&training, "train", true, "Start with training on")
	cmd.Flags().IntVar(&queue, "queue", 16, "Length of the command queue")
	return cmd
}
