package main

import (
	"io"

	"container-invoker/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// options are the flags shared by every subcommand.
type options struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "container-invoker",
		Short: "Run one function invocation in an ephemeral container",
		Long: `container-invoker runs a packaged function once, either on the local
container engine or on ECS Fargate provisioned through Terraform, returns the
function's JSON result and removes everything it created.

Requests have the form [<provider>_]<resource>, for example:
  fib:11                      archive fib.jar on runtime 11, default provider
  ecs_fib                     archive fib.jar on ECS
  local_myuser/myrepo:fib     registry image on the local engine`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "properties or yaml file with credentials and settings")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newInvokeCmd(opts))
	root.AddCommand(newCleanupCmd(opts))
	return root
}

// load reads the configuration and builds the root logger writing to w.
func (o *options) load(w io.Writer) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log := zerolog.New(w).With().Timestamp().
		Str("svc", "container-invoker").Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	return cfg, log.Level(level), nil
}
