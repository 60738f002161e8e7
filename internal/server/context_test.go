package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/engine"
)

func newDemoContext(t *testing.T, opts ...Option) *ServerContext {
	t.Helper()
	cfg := config.Default()
	e := engine.New(*cfg)

	all := append([]Option{WithEngine(e), WithConfig(cfg)}, opts...)
	sc, err := NewServerContext(context.Background(), all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func TestNewServerContextRequiresEngine(t *testing.T) {
	_, err := NewServerContext(context.Background(), WithConfig(config.Default()))
	assert.ErrorIs(t, err, ErrMissingEngine)
}

func TestNewServerContextRequiresConfig(t *testing.T) {
	e := engine.New(*config.Default())
	_, err := NewServerContext(context.Background(), WithEngine(e))
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestShutdownIsIdempotentAndRunsClosers(t *testing.T) {
	var order []string
	sc := newDemoContext(t,
		WithCloser(func() error { order = append(order, "first"); return nil }),
		WithCloser(func() error { order = append(order, "second"); return nil }),
	)

	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	// Reverse registration order.
	assert.Equal(t, []string{"second", "first"}, order)

	require.NoError(t, sc.Shutdown())
	assert.Equal(t, []string{"second", "first"}, order)

	select {
	case <-sc.Context().Done():
	default:
		t.Fatal("lifecycle context not cancelled")
	}
}

func TestShutdownReportsFirstCloserError(t *testing.T) {
	boom := errors.New("close failed")
	sc := newDemoContext(t,
		WithCloser(func() error { return boom }),
		WithCloser(func() error { return nil }),
	)

	assert.ErrorIs(t, sc.Shutdown(), boom)
}

func TestAccessors(t *testing.T) {
	sc := newDemoContext(t)

	assert.NotNil(t, sc.Engine())
	assert.NotNil(t, sc.Config())
	assert.NotNil(t, sc.Logger())
}
