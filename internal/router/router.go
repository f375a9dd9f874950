// Package router classifies intercepted resource requests and hands each
// category to its fetch strategy.
package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/strategy"
)

// Kind selects a fetch strategy.
type Kind string

// Strategy kinds.
const (
	CacheFirst   Kind = "cache-first"
	NetworkFirst Kind = "network-first"
	NetworkOnly  Kind = "network-only"
)

type rule struct {
	category offline.Category
	match    func(offline.Request) bool
}

// rules is evaluated top to bottom; the first match wins.
var rules = []rule{
	{offline.CategoryBypass, func(r offline.Request) bool {
		return r.Method != "" && r.Method != http.MethodGet && r.Method != http.MethodHead
	}},
	{offline.CategoryVideo, func(r offline.Request) bool {
		return offline.IsVideoURL(r.URL) || r.Destination == "video" || r.Destination == "audio"
	}},
	{offline.CategoryNavigation, func(r offline.Request) bool {
		return r.Mode == offline.ModeNavigate || r.Accepts("text/html")
	}},
	{offline.CategoryImage, func(r offline.Request) bool {
		return r.Destination == "image" || offline.IsImageURL(r.URL)
	}},
	{offline.CategoryJSON, func(r offline.Request) bool {
		return offline.IsJSONURL(r.URL)
	}},
}

// Classify maps a request to its category.
func Classify(req offline.Request) offline.Category {
	for _, r := range rules {
		if r.match(req) {
			return r.category
		}
	}
	return offline.CategoryStatic
}

// Route is the fulfilment plan for one category.
type Route struct {
	Kind     Kind
	Purpose  offline.Purpose
	Fallback string
	// Stream passes the network body through without buffering.
	Stream bool
}

// Routes is the immutable category table.
type Routes map[offline.Category]Route

// DefaultRoutes builds the standard table around the offline document and
// placeholder image URLs.
func DefaultRoutes(offlineDocument, placeholder string) Routes {
	return Routes{
		offline.CategoryNavigation: {Kind: NetworkFirst, Purpose: offline.PurposeShell, Fallback: offlineDocument},
		offline.CategoryImage:      {Kind: CacheFirst, Purpose: offline.PurposeImage, Fallback: placeholder},
		offline.CategoryJSON:       {Kind: NetworkFirst, Purpose: offline.PurposeJSON, Fallback: offlineDocument},
		offline.CategoryVideo:      {Kind: NetworkOnly, Stream: true},
		offline.CategoryStatic:     {Kind: CacheFirst, Purpose: offline.PurposeShell, Fallback: offlineDocument},
	}
}

// Strategies is the strategy engine as seen by the router.
type Strategies interface {
	CacheFirst(ctx context.Context, req offline.Request, purpose offline.Purpose, fallback string) (*offline.Response, strategy.Source)
	NetworkFirst(ctx context.Context, req offline.Request, purpose offline.Purpose, fallback string) (*offline.Response, strategy.Source)
	NetworkOnly(ctx context.Context, req offline.Request, fallback string) (*offline.Response, strategy.Source)
}

// Result is the outcome of handling one request.
type Result struct {
	Response    *offline.Response
	Category    offline.Category
	Source      strategy.Source
	Intercepted bool
}

// Router dispatches requests.
type Router struct {
	routes     Routes
	strategies Strategies
	passthru   offline.Fetcher
	logger     *zap.Logger
}

// New builds a Router. passthru serves bypassed requests untouched.
func New(routes Routes, strategies Strategies, passthru offline.Fetcher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(Routes, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	return &Router{routes: copied, strategies: strategies, passthru: passthru, logger: logger.Named("router")}
}

// Handle classifies req and fulfils it. Bypassed requests are streamed
// straight from the network and reported as not intercepted; only their
// transport failures are returned as errors.
func (r *Router) Handle(ctx context.Context, req offline.Request) (Result, error) {
	category := Classify(req)
	if category == offline.CategoryBypass {
		req.Stream = true
		resp, err := r.passthru.Fetch(ctx, req)
		if err != nil {
			return Result{Category: category}, fmt.Errorf("bypass %s %s: %w", req.Method, req.URL, err)
		}
		metrics.ObserveFetch(string(category), string(strategy.SourceNetwork))
		return Result{Response: resp, Category: category, Source: strategy.SourceNetwork}, nil
	}

	route, ok := r.routes[category]
	if !ok {
		route = Route{Kind: NetworkOnly}
	}
	req.Stream = route.Stream
	if category == offline.CategoryNavigation {
		req.Mode = offline.ModeNavigate
	}
	var (
		resp *offline.Response
		src  strategy.Source
	)
	switch route.Kind {
	case CacheFirst:
		resp, src = r.strategies.CacheFirst(ctx, req, route.Purpose, route.Fallback)
	case NetworkFirst:
		resp, src = r.strategies.NetworkFirst(ctx, req, route.Purpose, route.Fallback)
	default:
		resp, src = r.strategies.NetworkOnly(ctx, req, route.Fallback)
	}
	metrics.ObserveFetch(string(category), string(src))
	r.logger.Debug("request handled",
		zap.String("url", req.URL),
		zap.String("category", string(category)),
		zap.String("source", string(src)))
	return Result{Response: resp, Category: category, Source: src, Intercepted: true}, nil
}

// RequestFromHTTP maps an inbound HTTP request onto an offline.Request for
// target, reading the fetch metadata headers for mode and destination.
func RequestFromHTTP(r *http.Request, target string, body []byte) offline.Request {
	return offline.Request{
		Method:      r.Method,
		URL:         target,
		Header:      r.Header.Clone(),
		Mode:        offline.Mode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))),
		Destination: strings.ToLower(r.Header.Get("Sec-Fetch-Dest")),
		Body:        body,
	}
}
