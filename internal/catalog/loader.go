package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Matcher looks a URL up in the cache tiers.
type Matcher interface {
	Match(ctx context.Context, url string) (*offline.Response, error)
}

// Loader reads the catalog document from the cache, falling back to the network.
type Loader struct {
	cache   Matcher
	fetcher offline.Fetcher
	url     string
	logger  *zap.Logger
}

// NewLoader builds a Loader for the absolute catalog URL.
func NewLoader(cache Matcher, fetcher offline.Fetcher, url string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: cache, fetcher: fetcher, url: url, logger: logger.Named("catalog")}
}

// URL returns the catalog document URL.
func (l *Loader) URL() string {
	return l.url
}

// Load returns the parsed catalog.
func (l *Loader) Load(ctx context.Context) (Catalog, error) {
	body, err := l.read(ctx)
	if err != nil {
		return Catalog{}, err
	}
	return Parse(body)
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if l.cache != nil {
		resp, err := l.cache.Match(ctx, l.url)
		switch {
		case err == nil && resp.OK():
			return resp.Body, nil
		case err != nil && !errors.Is(err, offline.ErrNotFound):
			l.logger.Warn("catalog cache lookup failed", zap.String("url", l.url), zap.Error(err))
		}
	}
	if l.fetcher == nil {
		return nil, fmt.Errorf("load catalog %s: %w", l.url, offline.ErrNotFound)
	}
	resp, err := l.fetcher.Fetch(ctx, offline.Request{Method: http.MethodGet, URL: l.url})
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
	}
	if resp.Stream != nil {
		defer func() { _ = resp.Stream.Close() }()
		body, err := io.ReadAll(resp.Stream)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		return body, nil
	}
	return resp.Body, nil
}
