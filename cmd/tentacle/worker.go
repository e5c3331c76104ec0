package main

import (
	"emperror.dev/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
	"github.com/mrjvadi/tentacle/endpointtasks"
)

func newWorkerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume endpoint actions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWorker(cmd)
		},
	}
	flags := cmd.Flags()
	flags.String("queue", "", "queue to consume")
	flags.Int("max_jobs", 0, "concurrent handlers")
	a.bind(flags.Lookup("queue"), flags.Lookup("max_jobs"))
	return cmd
}

func (a *app) runWorker(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, log := a.cfg, a.log

	st, err := newStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("Closing transport", zap.Error(err))
		}
	}()

	reg := broker.NewRegistry(endpointtasks.Namespace)
	if err := endpointtasks.Register(reg, endpointtasks.NewStore(), newRouter(cfg, st.transport, log)); err != nil {
		return err
	}
	gw, err := broker.NewGateway(st.consumer, cfg.Queue, reg, cfg.BrokerOptions(log)...)
	if err != nil {
		return err
	}

	log.Info("Worker starting",
		zap.String("transport", cfg.Transport),
		zap.String("queue", cfg.Queue),
		zap.Strings("actions", reg.Names()),
	)
	if err := gw.Run(ctx); err != nil {
		return errors.WrapIf(err, "worker run")
	}
	log.Info("Worker stopped")
	return nil
}
