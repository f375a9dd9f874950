// Package strategy implements the request fulfilment algorithms shared by
// every route: cache-first, network-first and network-only.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Source names where a response came from.
type Source string

// Response sources.
const (
	SourceCache     Source = "cache"
	SourceNetwork   Source = "network"
	SourceFallback  Source = "fallback"
	SourceSynthetic Source = "synthetic"
)

const defaultWriteTimeout = 30 * time.Second

// Tiers is the slice of the tier manager the engine needs.
type Tiers interface {
	Open(ctx context.Context, purpose offline.Purpose) (offline.Tier, error)
	Match(ctx context.Context, url string) (*offline.Response, error)
}

// Engine runs the strategies against a tier manager and a network fetcher.
type Engine struct {
	tiers        Tiers
	fetcher      offline.Fetcher
	group        *lifecycle.Group
	clock        offline.Clock
	logger       *zap.Logger
	writeTimeout time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithWriteTimeout bounds each background tier write. Non-positive values
// keep the default.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// New builds an Engine. Background writes run under group.
func New(
	tiers Tiers,
	fetcher offline.Fetcher,
	group *lifecycle.Group,
	clock offline.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		tiers:        tiers,
		fetcher:      fetcher,
		group:        group,
		clock:        clock,
		logger:       logger.Named("strategy"),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CacheFirst answers from the tier when possible, then from the network, then
// from the fallback. An error status counts as a network failure unless the
// request is a navigation.
func (e *Engine) CacheFirst(
	ctx context.Context,
	req offline.Request,
	purpose offline.Purpose,
	fallback string,
) (*offline.Response, Source) {
	tier := e.openTier(ctx, purpose)
	if cached := e.lookup(ctx, tier, req.URL); cached != nil {
		return cached, SourceCache
	}
	resp, err := e.fetch(ctx, req)
	if err != nil {
		e.logger.Debug("network fetch failed", zap.String("url", req.URL), zap.Error(err))
		return e.Fallback(ctx, req.URL, fallback)
	}
	e.storeAsync(ctx, tier, req, resp)
	return resp, SourceNetwork
}

// NetworkFirst answers from the network, falling back to the tier and then to
// the fallback when the network fails. An error status counts as a failure
// unless the request is a navigation.
func (e *Engine) NetworkFirst(
	ctx context.Context,
	req offline.Request,
	purpose offline.Purpose,
	fallback string,
) (*offline.Response, Source) {
	tier := e.openTier(ctx, purpose)
	resp, err := e.fetch(ctx, req)
	if err == nil {
		e.storeAsync(ctx, tier, req, resp)
		return resp, SourceNetwork
	}
	e.logger.Debug("network fetch failed", zap.String("url", req.URL), zap.Error(err))
	if cached := e.lookup(ctx, tier, req.URL); cached != nil {
		return cached, SourceCache
	}
	return e.Fallback(ctx, req.URL, fallback)
}

// NetworkOnly always goes to the network and never touches a tier. An empty
// fallback yields a synthesized 503 on failure.
func (e *Engine) NetworkOnly(ctx context.Context, req offline.Request, fallback string) (*offline.Response, Source) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, SourceNetwork
	}
	e.logger.Debug("network-only fetch failed", zap.String("url", req.URL), zap.Error(err))
	return e.Fallback(ctx, req.URL, fallback)
}

// Fallback resolves the declared fallback resource through the tiers, or
// synthesizes a 503 when it is absent.
func (e *Engine) Fallback(ctx context.Context, url, fallback string) (*offline.Response, Source) {
	if fallback != "" {
		resp, err := e.tiers.Match(ctx, fallback)
		if err == nil {
			return resp, SourceFallback
		}
		if !errors.Is(err, offline.ErrNotFound) {
			e.logger.Warn("fallback lookup failed", zap.String("fallback", fallback), zap.Error(err))
		}
	}
	return offline.ServiceUnavailable(url, e.clock.Now()), SourceSynthetic
}

// Store writes resp to tier synchronously, applying the write guard. It is
// the only path into a tier.
func (e *Engine) Store(ctx context.Context, tier offline.Tier, url string, resp *offline.Response) error {
	if err := Guard(url, resp); err != nil {
		metrics.ObserveCacheWrite(tier.Name(), "refused")
		return err
	}
	snapshot := resp.Clone()
	if snapshot.StoredAt.IsZero() {
		snapshot.StoredAt = e.clock.Now()
	}
	if err := tier.Put(ctx, url, snapshot); err != nil {
		metrics.ObserveCacheWrite(tier.Name(), "failed")
		return err
	}
	metrics.ObserveCacheWrite(tier.Name(), "stored")
	return nil
}

// fetch goes to the network and turns a non-2xx, non-opaque answer into an
// ErrBadStatus failure. Navigations get the origin's page whatever its status.
func (e *Engine) fetch(ctx context.Context, req offline.Request) (*offline.Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Mode == offline.ModeNavigate || resp.OK() || resp.Type == offline.ResponseOpaque {
		return resp, nil
	}
	if resp.Stream != nil {
		_ = resp.Stream.Close()
	}
	return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
}

func (e *Engine) openTier(ctx context.Context, purpose offline.Purpose) offline.Tier {
	tier, err := e.tiers.Open(ctx, purpose)
	if err != nil {
		e.logger.Warn("tier unavailable", zap.String("purpose", string(purpose)), zap.Error(err))
		return nil
	}
	return tier
}

func (e *Engine) lookup(ctx context.Context, tier offline.Tier, url string) *offline.Response {
	if tier == nil {
		return nil
	}
	resp, err := tier.Match(ctx, url)
	if err != nil {
		if !errors.Is(err, offline.ErrNotFound) {
			e.logger.Warn("tier read failed", zap.String("tier", tier.Name()), zap.String("url", url), zap.Error(err))
		}
		return nil
	}
	return resp
}

// storeAsync persists a clone of resp without holding up the caller.
// Non-cacheable responses and HEAD requests are silently skipped.
func (e *Engine) storeAsync(ctx context.Context, tier offline.Tier, req offline.Request, resp *offline.Response) {
	if tier == nil || req.Method == http.MethodHead || !resp.Cacheable() {
		return
	}
	url := req.URL
	snapshot := resp.Clone()
	writeCtx := context.WithoutCancel(ctx)
	started := e.group.Go("cache-write", func() {
		ctx, cancel := context.WithTimeout(writeCtx, e.writeTimeout)
		defer cancel()
		if err := e.Store(ctx, tier, url, snapshot); err != nil {
			e.logger.Warn("cache write failed", zap.String("tier", tier.Name()), zap.String("url", url), zap.Error(err))
		}
	})
	if !started {
		metrics.ObserveCacheWrite(tier.Name(), "skipped")
	}
}
