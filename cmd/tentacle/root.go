package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/config"
)

type app struct {
	v       *viper.Viper
	cfgFile string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:   "tentacle",
		Short: "Endpoint worker for the event scheduling services",
		Long: `tentacle consumes endpoint actions from its queue and keeps the periodic
task table, triggering tasks on Kraken and Nautilus over the broker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.String("transport", "", "broker transport: amqp, redis or memory")
	flags.String("serializer", "", "json or msgpack")
	flags.String("log_level", "", "log level")
	a.bind(flags.Lookup("transport"), flags.Lookup("serializer"), flags.Lookup("log_level"))

	root.AddCommand(newWorkerCmd(a), newCallCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		log.Info("Using config file", zap.String("path", used))
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) bind(flags ...*pflag.Flag) {
	for _, f := range flags {
		if err := a.v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	}
}
