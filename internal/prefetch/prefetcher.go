// Package prefetch warms the cache tiers at install time: the application
// shell first, then the catalog document and everything it references.
// All of it is best-effort; a failed URL is counted and skipped.
package prefetch

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/offline-catalog-worker/internal/catalog"
	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

const defaultConcurrency = 4

// Tiers opens cache tiers by purpose.
type Tiers interface {
	Open(ctx context.Context, purpose offline.Purpose) (offline.Tier, error)
}

// Storer is the guarded write path into a tier.
type Storer interface {
	Store(ctx context.Context, tier offline.Tier, url string, resp *offline.Response) error
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls a Prefetcher.
type Config struct {
	// Scope is the absolute URL relative references resolve against.
	Scope string
	// CatalogURL is the absolute catalog document URL.
	CatalogURL  string
	Concurrency int
}

// Report summarises one prefetch run.
type Report struct {
	CatalogStored bool  `json:"catalog_stored"`
	Collected     int   `json:"collected"`
	Stored        int64 `json:"stored"`
	Failed        int64 `json:"failed"`
}

// Prefetcher walks the catalog and stores its thumbnails and metadata documents.
type Prefetcher struct {
	tiers   Tiers
	fetcher offline.Fetcher
	store   Storer
	limiter Limiter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Prefetcher. limiter may be nil.
func New(tiers Tiers, fetcher offline.Fetcher, store Storer, limiter Limiter, cfg Config, logger *zap.Logger) *Prefetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Prefetcher{
		tiers:   tiers,
		fetcher: fetcher,
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.Named("prefetch"),
	}
}

// Run fetches the catalog, stores it in the json tier and fans out over the
// URLs it references. It never fails; problems are logged and counted.
func (p *Prefetcher) Run(ctx context.Context) Report {
	var report Report
	jsonTier, err := p.tiers.Open(ctx, offline.PurposeJSON)
	if err != nil {
		p.logger.Warn("json tier unavailable", zap.Error(err))
		return report
	}
	imageTier, err := p.tiers.Open(ctx, offline.PurposeImage)
	if err != nil {
		p.logger.Warn("image tier unavailable", zap.Error(err))
		return report
	}

	resp, err := p.fetch(ctx, revalidate(p.cfg.CatalogURL))
	if err != nil {
		p.logger.Warn("catalog fetch failed", zap.String("url", p.cfg.CatalogURL), zap.Error(err))
		metrics.ObservePrefetch("catalog", "failed")
		return report
	}
	if err := p.store.Store(ctx, jsonTier, p.cfg.CatalogURL, resp); err != nil {
		p.logger.Warn("catalog not stored", zap.String("url", p.cfg.CatalogURL), zap.Error(err))
		metrics.ObservePrefetch("catalog", "failed")
	} else {
		report.CatalogStored = true
		metrics.ObservePrefetch("catalog", "stored")
	}

	doc, err := catalog.Parse(resp.Body)
	if err != nil {
		p.logger.Warn("catalog unparseable, nothing to prefetch", zap.Error(err))
		return report
	}
	refs := doc.CollectURLs(p.cfg.Scope)
	report.Collected = len(refs)

	var stored, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if err := p.prefetchOne(ctx, ref, jsonTier, imageTier); err != nil {
				failed.Add(1)
				metrics.ObservePrefetch(string(ref.Kind), "failed")
				p.logger.Debug("prefetch skipped", zap.String("url", ref.URL), zap.Error(err))
				return nil
			}
			stored.Add(1)
			metrics.ObservePrefetch(string(ref.Kind), "stored")
			return nil
		})
	}
	_ = g.Wait()

	report.Stored = stored.Load()
	report.Failed = failed.Load()
	p.logger.Info("catalog prefetched",
		zap.Int("collected", report.Collected),
		zap.Int64("stored", report.Stored),
		zap.Int64("failed", report.Failed))
	return report
}

func (p *Prefetcher) prefetchOne(ctx context.Context, ref catalog.Ref, jsonTier, imageTier offline.Tier) error {
	var (
		req  offline.Request
		tier offline.Tier
	)
	switch ref.Kind {
	case catalog.KindJSON:
		req, tier = revalidate(ref.URL), jsonTier
	case catalog.KindImage:
		req = offline.Request{Method: http.MethodGet, URL: ref.URL, Mode: offline.ModeNoCORS, Destination: "image"}
		tier = imageTier
	default:
		return fmt.Errorf("unknown kind %q", ref.Kind)
	}
	resp, err := p.fetch(ctx, req)
	if err != nil {
		return err
	}
	return p.store.Store(ctx, tier, ref.URL, resp)
}

func (p *Prefetcher) fetch(ctx context.Context, req offline.Request) (*offline.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, req.URL); err != nil {
			return nil, err
		}
	}
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return resp, nil
}

// revalidate builds a GET that bypasses intermediary caches.
func revalidate(url string) offline.Request {
	return offline.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{"Cache-Control": {"no-cache"}},
	}
}
