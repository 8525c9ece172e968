package main

import (
	"os"

	"container-invoker/internal/app"

	"github.com/spf13/cobra"
)

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <function>",
		Short: "Remove containers, images and work files a failed run left behind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Cleanup(cmd.Context(), args[0]); err != nil {
				log.Error().Err(err).Str("function", args[0]).Msg("cleanup incomplete")
				return err
			}
			log.Info().Str("function", args[0]).Msg("cleanup finished")
			return nil
		},
	}
}
