package main

import (
	"fmt"
	"strings"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

var errBadKwarg = errors.NewPlain("kwarg must be key=value")

func newCallCmd(a *app) *cobra.Command {
	var args, kwargs []string
	cmd := &cobra.Command{
		Use:   "call <kraken|nautilus> <method>",
		Short: "Issue one call to a remote service and print the response",
		Example: `  tentacle call kraken events.purge --kwarg older_than=30
  tentacle call nautilus scrape --arg '"https://example.org"' --arg 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			params, err := parseParams(args, kwargs)
			if err != nil {
				return err
			}
			return a.runCall(cmd, pos[0], pos[1], params)
		},
	}
	cmd.Flags().StringArrayVar(&args, "arg", nil, "positional argument, JSON or bare string (repeatable)")
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "keyword argument key=value, value JSON or bare string (repeatable)")
	return cmd
}

// parseValue reads s as JSON, falling back to the literal string.
func parseValue(s string) any {
	if v, err := broker.JSON.Decode([]byte(s)); err == nil {
		return v
	}
	return s
}

func parseParams(args, kwargs []string) (broker.Params, error) {
	var pos []any
	for _, s := range args {
		pos = append(pos, parseValue(s))
	}
	var kw map[string]any
	for _, s := range kwargs {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return broker.Params{}, errors.WithDetails(errBadKwarg, "kwarg", s)
		}
		if kw == nil {
			kw = make(map[string]any)
		}
		kw[k] = parseValue(v)
	}
	return broker.NewParams(pos, kw)
}

func (a *app) runCall(cmd *cobra.Command, exchange, method string, params broker.Params) error {
	ctx := cmd.Context()
	cfg, log := a.cfg, a.log

	st, err := newStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	resp, err := newRouter(cfg, st.transport, log).Dispatch(ctx, exchange, method, params)
	if err != nil {
		return err
	}
	if resp == nil {
		log.Info("Published without waiting for a response", zap.String("exchange", exchange), zap.String("method", method))
		return nil
	}
	out, err := broker.JSON.Encode(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
