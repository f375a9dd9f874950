package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGroupDrainWaitsForExtensions(t *testing.T) {
	t.Parallel()

	g := New(zap.NewNop())
	release, ok := g.Extend()
	require.True(t, ok)

	drained := make(chan error, 1)
	go func() { drained <- g.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("drain returned while an extension was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release() // second call is a no-op
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not return after release")
	}
}

func TestGroupRejectsWorkAfterDrain(t *testing.T) {
	t.Parallel()

	g := New(nil)
	require.NoError(t, g.Drain(context.Background()))

	_, ok := g.Extend()
	require.False(t, ok)

	var ran atomic.Bool
	require.False(t, g.Go("late", func() { ran.Store(true) }))
	g.Wait()
	require.False(t, ran.Load())
}

func TestGroupDrainHonoursDeadline(t *testing.T) {
	t.Parallel()

	g := New(nil)
	_, ok := g.Extend()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.Drain(ctx), context.DeadlineExceeded)
}

func TestGroupGoRecoversPanics(t *testing.T) {
	t.Parallel()

	g := New(nil)
	require.True(t, g.Go("boom", func() { panic("boom") }))
	g.Wait()
}
