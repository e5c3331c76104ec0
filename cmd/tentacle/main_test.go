package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
	"github.com/mrjvadi/tentacle/config"
	"github.com/mrjvadi/tentacle/remote"
)

func TestParseParams(t *testing.T) {
	p, err := parseParams([]string{"3", "plain", `{"a":[1]}`}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(3), "plain", map[string]any{"a": []any{float64(1)}}}, p.Value())

	p, err = parseParams(nil, []string{"older_than=30", "tag=x=y", "on=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"older_than": float64(30), "tag": "x=y", "on": true}, p.Value())

	p, err = parseParams(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, p.Value())

	_, err = parseParams([]string{"1"}, []string{"a=1"})
	require.ErrorIs(t, err, broker.ErrArgsAndKwargs)

	_, err = parseParams(nil, []string{"novalue"})
	require.ErrorIs(t, err, errBadKwarg)
	_, err = parseParams(nil, []string{"=1"})
	require.ErrorIs(t, err, errBadKwarg)
}

func TestNewRouterSkipsMissingCredentials(t *testing.T) {
	cfg := &config.Config{Serializer: "json", Timeout: 1, MaxJobs: 1}
	cfg.Kraken = config.Remote{Host: "localhost", Port: 5672, VHost: "/", User: "guest"}

	st, err := newStack(testContext(t), &config.Config{Transport: config.TransportMemory}, zap.NewNop())
	require.NoError(t, err)
	router := newRouter(cfg, st.transport, zap.NewNop())
	assert.Equal(t, []string{remote.Kraken}, router.Exchanges())
}

func TestNewStackRejectsUnknownTransport(t *testing.T) {
	_, err := newStack(testContext(t), &config.Config{Transport: "smoke-signals"}, zap.NewNop())
	require.ErrorIs(t, err, config.ErrUnknownTransport)
}

func TestCallFireAndForget(t *testing.T) {
	t.Setenv("TENTACLE_TRANSPORT", config.TransportMemory)
	t.Setenv("TENTACLE_NAUTILUS_USER", "guest")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"call", "nautilus", "scrape", "--kwarg", "url=https://example.org"})
	require.NoError(t, root.ExecuteContext(testContext(t)))
	assert.Empty(t, out.String())

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"call", "kraken", "purge"})
	require.ErrorIs(t, root.ExecuteContext(testContext(t)), remote.ErrUnknownExchange)
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
