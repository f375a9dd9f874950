// Package lifecycle tracks in-flight tasks that must finish before the worker stops.
//
// A task takes an extension with Extend (or runs through Go) and releases it
// when its durable effects are committed. Drain stops new extensions and waits
// for the outstanding ones, bounded by the caller's context.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Group is safe for concurrent use.
type Group struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	logger *zap.Logger
}

// New builds a Group.
func New(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{logger: logger}
}

// Extend registers a still-working task. The returned release func must be
// called exactly once; ok is false once the group is draining.
func (g *Group) Extend() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return func() {}, false
	}
	g.wg.Add(1)
	var once sync.Once
	return func() { once.Do(g.wg.Done) }, true
}

// Go runs fn on its own goroutine under an extension. It reports false and
// skips fn when the group is draining.
func (g *Group) Go(name string, fn func()) bool {
	release, ok := g.Extend()
	if !ok {
		g.logger.Debug("task rejected while draining", zap.String("task", name))
		return false
	}
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		fn()
	}()
	return true
}

// Wait blocks until every outstanding extension is released.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Drain closes the group to new work and waits for outstanding extensions.
func (g *Group) Drain(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lifecycle drain wait: %w", ctx.Err())
	}
}
