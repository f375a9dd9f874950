// Package trigger wakes the notification dispatcher on a schedule, emulating
// the platform's periodic background sync.
package trigger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/dispatcher"
	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
)

// DefaultTag is the periodic sync registration the worker answers to.
const DefaultTag = "tfstream-notifs"

// DefaultInterval matches the minimum interval requested at registration.
const DefaultInterval = time.Hour

var (
	// ErrForeignTag is returned by Fire for tags registered by someone else.
	ErrForeignTag = errors.New("periodic sync tag not handled")
	// ErrDraining is returned by Fire once shutdown has begun.
	ErrDraining = errors.New("worker draining")
)

// Processor runs one queue pass.
type Processor interface {
	ProcessQueue(ctx context.Context) dispatcher.Result
}

// Config controls the trigger.
type Config struct {
	Tag      string
	Interval time.Duration
	// Immediate fires once when Run starts instead of waiting a full interval.
	Immediate bool
}

// Trigger is safe for concurrent use.
type Trigger struct {
	processor Processor
	group     *lifecycle.Group
	cfg       Config
	logger    *zap.Logger
}

// New builds a Trigger.
func New(processor Processor, group *lifecycle.Group, cfg Config, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Trigger{
		processor: processor,
		group:     group,
		cfg:       cfg,
		logger:    logger.Named("trigger"),
	}
}

// Tag reports the sync tag Fire accepts.
func (t *Trigger) Tag() string { return t.cfg.Tag }

// Run blocks, firing every interval until ctx is done.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logger.Info("periodic trigger started", zap.Duration("interval", t.cfg.Interval))
	if t.cfg.Immediate {
		t.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("periodic trigger stopped")
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trigger) tick(ctx context.Context) {
	if _, err := t.Fire(ctx, t.cfg.Tag); err != nil {
		t.logger.Debug("periodic fire skipped", zap.Error(err))
	}
}

// Fire runs a queue pass for tag under a lifecycle extension.
func (t *Trigger) Fire(ctx context.Context, tag string) (dispatcher.Result, error) {
	if tag != t.cfg.Tag {
		return dispatcher.Result{}, ErrForeignTag
	}
	release, ok := t.group.Extend()
	if !ok {
		return dispatcher.Result{}, ErrDraining
	}
	defer release()

	res := t.processor.ProcessQueue(ctx)
	t.logger.Debug("periodic sync handled",
		zap.String("tag", tag),
		zap.Int("shown", res.Shown),
		zap.Bool("proactive", res.Proactive))
	return res, nil
}
